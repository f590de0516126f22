// Copyright (c) 2025 BVK Chaitanya

package httputil

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

func jsonDecode(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("could not decode request body: %w", err)
	}
	return nil
}

func jsonEncode(w io.Writer, v interface{}) error {
	return json.NewEncoder(w).Encode(v)
}
