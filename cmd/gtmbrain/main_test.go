package main

import "testing"

func TestServeFlags(t *testing.T) {
	opts, err := serveFlags("serve", []string{
		"--qdrant-url", "http://localhost:7000",
		"--embed-model", "voyage-3",
		"--log-mode", "dev",
	})
	if err != nil {
		t.Fatalf("serveFlags: %v", err)
	}
	if opts.CLIQdrantURL != "http://localhost:7000" {
		t.Fatalf("qdrant url: %q", opts.CLIQdrantURL)
	}
	if opts.CLIEmbedModel != "voyage-3" || opts.CLILogMode != "dev" {
		t.Fatalf("opts: %+v", opts)
	}
}

func TestServeFlagsUnknownFlag(t *testing.T) {
	if _, err := serveFlags("serve", []string{"--no-such-flag"}); err == nil {
		t.Fatal("expected flag error")
	}
}

func TestMask(t *testing.T) {
	cases := map[string]string{
		"":                 "",
		"abc":              "****",
		"sk-voyage-secret": "sk****et",
	}
	for in, want := range cases {
		if got := mask(in); got != want {
			t.Errorf("mask(%q) = %q, want %q", in, got, want)
		}
	}
}
