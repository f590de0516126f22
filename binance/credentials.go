// Copyright (c) 2025 BVK Chaitanya

package binance

import "fmt"

type Credentials struct {
	Key    string `json:"key"`
	Secret string `json:"secret"`
}

func (v *Credentials) Check() error {
	if len(v.Key) == 0 || len(v.Secret) == 0 {
		return fmt.Errorf("api key/secret cannot be empty")
	}
	return nil
}

func (v *Credentials) Clone() *Credentials {
	c := *v
	return &c
}
