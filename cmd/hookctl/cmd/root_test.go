package cmd

import (
	"testing"
	"time"
)

func TestCommandTree(t *testing.T) {
	wantCommands := map[string][]string{
		"endpoint":  {"create", "list", "show", "update", "rotate-secret", "deactivate", "delete"},
		"delivery":  {"list", "show", "count"},
		"broadcast": nil,
		"version":   nil,
	}

	for name, subs := range wantCommands {
		t.Run(name, func(t *testing.T) {
			cmd, _, err := rootCmd.Find([]string{name})
			if err != nil {
				t.Fatalf("command %q not registered: %v", name, err)
			}
			for _, sub := range subs {
				if s, _, err := cmd.Find([]string{sub}); err != nil || s == cmd {
					t.Errorf("subcommand %q %q not registered", name, sub)
				}
			}
		})
	}
}

func TestGlobalFlagDefaults(t *testing.T) {
	if got := rootCmd.PersistentFlags().Lookup("timeout").DefValue; got != (30 * time.Second).String() {
		t.Errorf("timeout default = %q, want 30s", got)
	}
	if got := rootCmd.PersistentFlags().Lookup("json").DefValue; got != "false" {
		t.Errorf("json default = %q, want false", got)
	}
	if got := rootCmd.PersistentFlags().Lookup("db").DefValue; got != "" {
		t.Errorf("db default = %q, want empty", got)
	}
}

func TestFilterLabel(t *testing.T) {
	tests := []struct {
		name   string
		filter []string
		want   string
	}{
		{"empty means all", nil, "(all)"},
		{"single", []string{"order.created"}, "order.created"},
		{"multiple", []string{"order.created", "order.refunded"}, "order.created,order.refunded"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := filterLabel(tt.filter); got != tt.want {
				t.Errorf("filterLabel(%v) = %q, want %q", tt.filter, got, tt.want)
			}
		})
	}
}
