package config

import (
	"testing"
)

func TestValidate_Defaults(t *testing.T) {
	cfg := Defaults()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestValidate_Rejects(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown mode", func(c *Config) { c.Mode = "testnet" }},
		{"bad port", func(c *Config) { c.Server.Port = -1 }},
		{"bad owner address", func(c *Config) { c.Issuance.Owner = "not-an-address" }},
		{"bad allow list entry", func(c *Config) { c.Issuance.AllowList = []string{"0x123"} }},
		{"chain mode without rpc", func(c *Config) { c.Mode = "chain" }},
		{"chain mode without key", func(c *Config) {
			c.Mode = "chain"
			c.Chain.RPCURL = "http://localhost:8545"
			c.Chain.ChainID = 1
		}},
		{"token without symbol", func(c *Config) {
			c.Tokens = []TokenConfig{{Address: "0x00000000000000000000000000000000000000c0"}}
		}},
		{"s3 enabled without bucket", func(c *Config) { c.S3.Enabled = true }},
		{"zero watcher interval", func(c *Config) { c.Watcher.IntervalSeconds = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Defaults()
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestValidate_ChainModeComplete(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "chain"
	cfg.Chain.RPCURL = "http://localhost:8545"
	cfg.Chain.ChainID = 31337
	cfg.Chain.PrivateKey = "0xabc123"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("complete chain config should validate: %v", err)
	}
}
