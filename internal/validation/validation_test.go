package validation

import (
	"errors"
	"testing"
)

type input struct {
	Title  string `json:"title" validate:"required,max=5"`
	Status string `json:"status" validate:"omitempty,oneof=TO_DO DONE"`
	Email  string `json:"email" validate:"omitempty,email"`
}

func TestStruct(t *testing.T) {
	tests := []struct {
		name       string
		in         input
		wantFields map[string]string
	}{
		{name: "valid", in: input{Title: "ok"}},
		{name: "missing title", in: input{}, wantFields: map[string]string{"title": "is required"}},
		{name: "too long", in: input{Title: "toolong"}, wantFields: map[string]string{"title": "must be at most 5 long"}},
		{
			name:       "several",
			in:         input{Status: "LATER", Email: "nope"},
			wantFields: map[string]string{"title": "is required", "status": "must be one of TO_DO DONE", "email": "must be an email address"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Struct(tt.in)
			if tt.wantFields == nil {
				if err != nil {
					t.Fatalf("Struct() = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, ErrInvalid) {
				t.Fatalf("Struct() = %v, want ErrInvalid", err)
			}
			var verr *Error
			if !errors.As(err, &verr) {
				t.Fatalf("Struct() = %T, want *Error", err)
			}
			if len(verr.Fields) != len(tt.wantFields) {
				t.Fatalf("Fields = %v, want %v", verr.Fields, tt.wantFields)
			}
			for k, v := range tt.wantFields {
				if verr.Fields[k] != v {
					t.Errorf("Fields[%s] = %q, want %q", k, verr.Fields[k], v)
				}
			}
		})
	}
}

func TestError_Message(t *testing.T) {
	err := &Error{Fields: map[string]string{"status": "is bad", "title": "is required"}}
	if got, want := err.Error(), "invalid input: status is bad; title is required"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if !errors.Is(Invalid("x", "y"), ErrInvalid) {
		t.Error("Invalid() should match ErrInvalid")
	}
}
