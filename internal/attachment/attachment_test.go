package attachment

import (
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestValidateMimeHint(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		hint    string
		want    string
		wantErr error
	}{
		{name: "blank falls back to octet-stream", hint: "", want: "application/octet-stream"},
		{name: "whitespace only falls back", hint: "   ", want: "application/octet-stream"},
		{name: "trims surrounding whitespace", hint: "  image/png  ", want: "image/png"},
		{name: "strips embedded markup", hint: "image/png<script>alert(1)</script>", want: "image/png"},
		{name: "too long is rejected", hint: strings.Repeat("a", MaxMimeHintLength+1), wantErr: ErrMimeHintLength},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := ValidateMimeHint(tt.hint)
			if tt.wantErr != nil {
				if err != tt.wantErr {
					t.Fatalf("ValidateMimeHint(%q) error = %v, want %v", tt.hint, err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ValidateMimeHint(%q) unexpected error: %v", tt.hint, err)
			}
			if got != tt.want {
				t.Fatalf("ValidateMimeHint(%q) = %q, want %q", tt.hint, got, tt.want)
			}
		})
	}
}

func TestFileBlobPinned(t *testing.T) {
	t.Parallel()

	unpinned := FileBlob{RefCount: 0}
	if unpinned.Pinned() {
		t.Error("blob with ref_count 0 should not be pinned")
	}

	pinned := FileBlob{RefCount: 1}
	if !pinned.Pinned() {
		t.Error("blob with ref_count 1 should be pinned")
	}
}

func TestCreateParamsZeroValue(t *testing.T) {
	t.Parallel()

	var p CreateParams
	if p.Scope != "" || p.IV != "" || p.SHA256 != "" || p.StorageKey != "" || p.MimeHint != "" {
		t.Error("CreateParams zero value should have empty strings")
	}
	if p.SizeBytes != 0 {
		t.Error("CreateParams zero value should have zero size")
	}
	if p.RecipientKeys != nil {
		t.Error("CreateParams zero value should have nil RecipientKeys")
	}
}

func TestFileBlobZeroValue(t *testing.T) {
	t.Parallel()

	var b FileBlob
	if b.ID != uuid.Nil || b.OwnerID != uuid.Nil {
		t.Error("FileBlob zero value should have nil UUIDs")
	}
	if !b.CreatedAt.IsZero() {
		t.Error("FileBlob zero value should have zero CreatedAt")
	}
	if b.Pinned() {
		t.Error("FileBlob zero value should not be pinned")
	}
}

func TestScopeConstants(t *testing.T) {
	t.Parallel()

	if ScopeDM != "dm" {
		t.Errorf("ScopeDM = %q, want %q", ScopeDM, "dm")
	}
	if ScopeGroup != "group" {
		t.Errorf("ScopeGroup = %q, want %q", ScopeGroup, "group")
	}
}
