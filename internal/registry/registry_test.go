package registry

import "testing"

func testProviders() []*Provider {
	return []*Provider{
		{
			Name:           "vertex",
			BaseURL:        "https://vertex.example.com",
			Wire:           WireAnthropic,
			PrimaryModel:   "claude-sonnet-4-20250514",
			SecondaryModel: "claude-3-5-haiku-20241022",
			CostMultiplier: 1.0,
			Priority:       10,
		},
		{
			Name:           "openrouter",
			BaseURL:        "https://openrouter.ai/api",
			Wire:           WireOpenAI,
			PrimaryModel:   "anthropic/claude-3.5-sonnet",
			SecondaryModel: "anthropic/claude-3-haiku",
			CostMultiplier: 1.2,
			Priority:       6,
			ModelOverrides: map[string]string{
				"claude-opus-4-20250514": "anthropic/claude-3-opus",
			},
		},
	}
}

func TestNew_SortsNames(t *testing.T) {
	reg, err := New(testProviders())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	names := reg.Names()
	if len(names) != 2 {
		t.Fatalf("Expected 2 names, got %d", len(names))
	}
	if names[0] != "openrouter" || names[1] != "vertex" {
		t.Errorf("Expected sorted names [openrouter vertex], got %v", names)
	}
}

func TestNew_Rejections(t *testing.T) {
	tests := []struct {
		name      string
		providers []*Provider
	}{
		{"empty name", []*Provider{{Name: "", CostMultiplier: 1.0}}},
		{"duplicate name", []*Provider{
			{Name: "a", CostMultiplier: 1.0},
			{Name: "a", CostMultiplier: 1.0},
		}},
		{"zero cost multiplier", []*Provider{{Name: "a"}}},
		{"negative cost multiplier", []*Provider{{Name: "a", CostMultiplier: -0.5}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.providers); err == nil {
				t.Error("Expected error, got nil")
			}
		})
	}
}

func TestSelectModel(t *testing.T) {
	reg, err := New(testProviders())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	vertex, _ := reg.Get("vertex")
	openrouter, _ := reg.Get("openrouter")

	tests := []struct {
		name      string
		provider  *Provider
		requested string
		want      string
	}{
		{"default to primary", vertex, "claude-opus-4-20250514", "claude-sonnet-4-20250514"},
		{"haiku pattern maps to secondary", vertex, "claude-3-5-haiku-20241022", "claude-3-5-haiku-20241022"},
		{"haiku pattern is case insensitive", vertex, "Claude-3-Haiku", "claude-3-5-haiku-20241022"},
		{"exact override wins over pattern", openrouter, "claude-opus-4-20250514", "anthropic/claude-3-opus"},
		{"haiku on openrouter", openrouter, "claude-3-haiku-20240307", "anthropic/claude-3-haiku"},
		{"no secondary falls back to primary", &Provider{Name: "x", PrimaryModel: "only-model", CostMultiplier: 1.0}, "claude-3-haiku-20240307", "only-model"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.provider.SelectModel(tt.requested); got != tt.want {
				t.Errorf("SelectModel(%q) = %q, want %q", tt.requested, got, tt.want)
			}
		})
	}
}
