package lifecycle

import (
	"testing"

	"github.com/lucidarc/observatory/internal/apierr"
	"github.com/lucidarc/observatory/internal/credential"
	"github.com/lucidarc/observatory/internal/job"
)

func testConfig() Config {
	return Config{
		MaxInputChars: 100,
		TTLs:          TTLs{},
		Allowlists: map[credential.Tier]CallbackAllowlist{
			credential.TierPublic:  {Schemes: []string{"https"}, Hosts: []string{"hooks.example.com"}},
			credential.TierAPIKey:  {Schemes: []string{"https"}, Hosts: []string{"hooks.example.com"}},
			credential.TierPartner: {Schemes: []string{"https", "http"}},
		},
	}
}

func TestValidateSubmissionRejectsEmptyText(t *testing.T) {
	c := &Controller{cfg: testConfig()}
	_, err := c.validateSubmission(credential.Credential{Tier: credential.TierPublic}, SubmitPayload{ConversationText: "   "})
	if err == nil {
		t.Fatal("expected an error for empty conversation text")
	}
	e, ok := apierr.As(err)
	if !ok || e.Kind != apierr.KindInvalidInput {
		t.Errorf("expected invalid_input, got %v", err)
	}
}

func TestValidateSubmissionRejectsOverLongText(t *testing.T) {
	c := &Controller{cfg: testConfig()}
	text := make([]byte, 101)
	for i := range text {
		text[i] = 'a'
	}
	_, err := c.validateSubmission(credential.Credential{Tier: credential.TierAPIKey}, SubmitPayload{ConversationText: string(text)})
	if err == nil {
		t.Fatal("expected an error for over-long conversation text")
	}
}

func TestValidateSubmissionDefaultsPatternTypes(t *testing.T) {
	c := &Controller{cfg: testConfig()}
	opts, err := c.validateSubmission(credential.Credential{Tier: credential.TierAPIKey}, SubmitPayload{ConversationText: "hello"})
	if err != nil {
		t.Fatalf("validateSubmission() error = %v", err)
	}
	if len(opts.PatternTypes) != 3 {
		t.Errorf("expected all 3 pattern types by default, got %v", opts.PatternTypes)
	}
}

func TestValidateSubmissionCoercesHighPriorityForNonPartner(t *testing.T) {
	c := &Controller{cfg: testConfig()}
	opts, err := c.validateSubmission(credential.Credential{Tier: credential.TierAPIKey}, SubmitPayload{
		ConversationText: "hello", Priority: "high",
	})
	if err != nil {
		t.Fatalf("validateSubmission() error = %v", err)
	}
	if opts.Priority != job.PriorityNormal {
		t.Errorf("expected api_key tier's high priority to be coerced to normal, got %v", opts.Priority)
	}
}

func TestValidateSubmissionAllowsHighPriorityForPartner(t *testing.T) {
	c := &Controller{cfg: testConfig()}
	opts, err := c.validateSubmission(credential.Credential{Tier: credential.TierPartner}, SubmitPayload{
		ConversationText: "hello", Priority: "high",
	})
	if err != nil {
		t.Fatalf("validateSubmission() error = %v", err)
	}
	if opts.Priority != job.PriorityHigh {
		t.Errorf("expected partner tier's high priority to be honored, got %v", opts.Priority)
	}
}

func TestValidateSubmissionCallbackURLAllowlist(t *testing.T) {
	c := &Controller{cfg: testConfig()}

	tests := []struct {
		name    string
		tier    credential.Tier
		url     string
		wantErr bool
	}{
		{"public allowed host", credential.TierPublic, "https://hooks.example.com/cb", false},
		{"public disallowed host", credential.TierPublic, "https://evil.example.com/cb", true},
		{"public disallowed scheme", credential.TierPublic, "http://hooks.example.com/cb", true},
		{"partner any host", credential.TierPartner, "https://anywhere.example.org/cb", false},
		{"partner http allowed", credential.TierPartner, "http://anywhere.example.org/cb", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.validateSubmission(credential.Credential{Tier: tt.tier}, SubmitPayload{
				ConversationText: "hello", CallbackURL: tt.url,
			})
			if (err != nil) != tt.wantErr {
				t.Errorf("validateSubmission() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
