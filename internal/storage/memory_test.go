// internal/storage/memory_test.go
package storage

import (
	"context"
	"errors"
	"testing"
)

func TestMemory_WriteRead(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	if _, err := m.Read(ctx, "ledger.json"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	data := []byte("[]")
	if err := m.Write(ctx, "ledger.json", data); err != nil {
		t.Fatalf("Write: %v", err)
	}

	// caller mutation must not leak into the store
	data[0] = 'x'

	got, err := m.Read(ctx, "ledger.json")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != "[]" {
		t.Errorf("got %q, want %q", got, "[]")
	}
}

func TestNew_SelectsBackend(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		want    string
		wantErr bool
	}{
		{"default is localfs", Config{Path: t.TempDir()}, "*storage.LocalFS", false},
		{"memory", Config{Type: "memory"}, "*storage.Memory", false},
		{"s3", Config{Type: "s3", S3: S3Config{Bucket: "b", Region: "r"}}, "*storage.S3Storage", false},
		{"unknown", Config{Type: "ftp"}, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, err := New(tt.cfg)
			if tt.wantErr {
				if err == nil {
					t.Error("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			if got := typeName(store); got != tt.want {
				t.Errorf("backend = %s, want %s", got, tt.want)
			}
		})
	}
}

func typeName(s Store) string {
	switch s.(type) {
	case *LocalFS:
		return "*storage.LocalFS"
	case *Memory:
		return "*storage.Memory"
	case *S3Storage:
		return "*storage.S3Storage"
	}
	return "unknown"
}
