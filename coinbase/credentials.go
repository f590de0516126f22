// Copyright (c) 2025 BVK Chaitanya

package coinbase

import "fmt"

// Credentials holds the CDP API key name and the associated EC private key in
// PEM format.
type Credentials struct {
	KID string `json:"kid"`
	PEM string `json:"pem"`
}

func (v *Credentials) Check() error {
	if len(v.KID) == 0 {
		return fmt.Errorf("api key name cannot be empty")
	}
	if len(v.PEM) == 0 {
		return fmt.Errorf("private key cannot be empty")
	}
	return nil
}

func (v *Credentials) Clone() *Credentials {
	c := *v
	return &c
}
