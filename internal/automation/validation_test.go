package automation

import (
	"errors"
	"strings"
	"testing"
)

func validTestActions() []map[string]any {
	return []map[string]any{
		{"action": "log", "message": "fired", "level": "info"},
	}
}

func TestValidateDefinition(t *testing.T) {
	tests := []struct {
		name    string
		def     *Definition
		wantErr error
	}{
		{
			name: "valid definition",
			def: &Definition{
				Name:    "Hall Light",
				Mode:    ModeSingle,
				Actions: validTestActions(),
			},
			wantErr: nil,
		},
		{
			name:    "nil definition",
			def:     nil,
			wantErr: ErrInvalid,
		},
		{
			name: "empty name",
			def: &Definition{
				Name:    "",
				Actions: validTestActions(),
			},
			wantErr: ErrInvalidName,
		},
		{
			name: "whitespace-only name",
			def: &Definition{
				Name:    "   ",
				Actions: validTestActions(),
			},
			wantErr: ErrInvalidName,
		},
		{
			name: "name too long",
			def: &Definition{
				Name:    strings.Repeat("a", 101),
				Actions: validTestActions(),
			},
			wantErr: ErrInvalidName,
		},
		{
			name: "description too long",
			def: &Definition{
				Name:        "Test",
				Description: strings.Repeat("x", 501),
				Actions:     validTestActions(),
			},
			wantErr: ErrInvalid,
		},
		{
			name: "invalid mode",
			def: &Definition{
				Name:    "Test",
				Mode:    Mode("sideways"),
				Actions: validTestActions(),
			},
			wantErr: ErrInvalidMode,
		},
		{
			name: "empty mode allowed",
			def: &Definition{
				Name:    "Test",
				Actions: validTestActions(),
			},
			wantErr: nil,
		},
		{
			name: "invalid max_exceeded",
			def: &Definition{
				Name:        "Test",
				MaxExceeded: MaxExceeded("shout"),
				Actions:     validTestActions(),
			},
			wantErr: ErrInvalid,
		},
		{
			name: "too many triggers",
			def: &Definition{
				Name:     "Test",
				Triggers: make([]map[string]any, 51),
				Actions:  validTestActions(),
			},
			wantErr: ErrInvalid,
		},
		{
			name: "too many conditions",
			def: &Definition{
				Name:       "Test",
				Conditions: make([]map[string]any, 51),
				Actions:    validTestActions(),
			},
			wantErr: ErrInvalid,
		},
		{
			name: "no actions",
			def: &Definition{
				Name:    "Test",
				Actions: []map[string]any{},
			},
			wantErr: ErrNoActions,
		},
		{
			name: "too many actions",
			def: func() *Definition {
				actions := make([]map[string]any, 101)
				for i := range actions {
					actions[i] = map[string]any{"action": "log", "message": "m", "level": "info"}
				}
				return &Definition{Name: "Test", Actions: actions}
			}(),
			wantErr: ErrInvalid,
		},
		{
			name: "unbuildable trigger config",
			def: &Definition{
				Name: "Test",
				Triggers: []map[string]any{
					{"platform": "telepathy"},
				},
				Actions: validTestActions(),
			},
			wantErr: ErrInvalidConfig,
		},
		{
			name: "unbuildable action config",
			def: &Definition{
				Name: "Test",
				Actions: []map[string]any{
					{"action": "levitate"},
				},
			},
			wantErr: ErrInvalidConfig,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateDefinition(tt.def)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("expected no error, got: %v", err)
				}
				return
			}
			if err == nil {
				t.Errorf("expected error %v, got nil", tt.wantErr)
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected error %v, got: %v", tt.wantErr, err)
			}
		})
	}
}

func TestValidateName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"valid name", "Hall Light", false},
		{"single char", "A", false},
		{"max length", strings.Repeat("a", 100), false},
		{"empty", "", true},
		{"whitespace only", "   ", true},
		{"too long", strings.Repeat("a", 101), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateName(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateName(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

func TestGenerateID(t *testing.T) {
	id1 := GenerateID()
	id2 := GenerateID()

	if id1 == "" {
		t.Error("GenerateID returned empty string")
	}
	if id1 == id2 {
		t.Error("GenerateID returned duplicate IDs")
	}
	// UUID format: 8-4-4-4-12 hex characters
	if len(id1) != 36 {
		t.Errorf("GenerateID length = %d, want 36", len(id1))
	}
}

func TestShortID(t *testing.T) {
	id1 := shortID()
	id2 := shortID()

	if len(id1) != 8 {
		t.Errorf("shortID length = %d, want 8", len(id1))
	}
	if id1 == id2 {
		t.Error("shortID returned duplicate IDs")
	}
	if strings.Contains(id1, "-") {
		t.Errorf("shortID %q contains a hyphen", id1)
	}
}
