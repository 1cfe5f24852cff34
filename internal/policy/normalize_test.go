package policy

import "testing"

func TestNormalize(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"Sim!", "sim"},
		{"  SIM,   pode. ", "sim pode"},
		{"Não", "nao"},
		{"Situação do REF-001?", "situacao do ref-001"},
		{"/reset", "/reset"},
		{"confirmação - ok", "confirmacao ok"},
		{"çÇãõ", "ccao"},
		{"", ""},
		{"...", ""},
	}
	for _, tt := range tests {
		if got := Normalize(tt.input); got != tt.want {
			t.Errorf("Normalize(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestContainsPhrase(t *testing.T) {
	if !containsPhrase("ativar modo estrito agora", "modo estrito") {
		t.Error("phrase in the middle not found")
	}
	if containsPhrase("modo estritos", "modo estrito") {
		t.Error("phrase matched inside a longer word")
	}
	if containsPhrase("anything", "") {
		t.Error("empty phrase matched")
	}
}
