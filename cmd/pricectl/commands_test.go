package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-lab/internal/billing"
	"github.com/noah-isme/backend-lab/internal/pricing"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestResolveCommand(t *testing.T) {
	out, err := run(t, "resolve", "--test", "@000003", "--referral", "corporate", "--scheme", "standard", "--volume", "10")
	require.NoError(t, err)

	var res pricing.PriceResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	require.Equal(t, pricing.SourceComprehensive, res.Source)
	require.Equal(t, 427.5, res.Price)
}

func TestCommissionCommand(t *testing.T) {
	out, err := run(t, "commission", "--referral", "doctor_001", "--amount", "2500")
	require.NoError(t, err)

	var res pricing.CommissionResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	require.True(t, res.Eligible)
	require.Equal(t, 250.0, res.Commission)

	_, err = run(t, "commission", "--referral", "doctor_001", "--amount", "lots")
	require.Error(t, err)
}

func TestValidateCommand(t *testing.T) {
	out, err := run(t, "validate")
	require.NoError(t, err)
	require.Contains(t, out, `"isValid": true`)

	broken := filepath.Join(t.TempDir(), "pricing.json")
	require.NoError(t, os.WriteFile(broken, []byte(`{"pricingSchemes":{},"fallbackRules":{"defaultScheme":"missing"}}`), 0o600))
	out, err = run(t, "validate", "--pricing-config", broken)
	require.ErrorIs(t, err, errInvalidConfig)
	require.Contains(t, out, `"isValid": false`)
}

func TestQuoteCommand(t *testing.T) {
	t.Setenv("BILLING_GST_BPS", "1800")
	out, err := run(t, "quote", "-t", "@000003:2", "-t", "@000004", "-r", "corporate", "-s", "standard")
	require.NoError(t, err)

	var q billing.Quote
	require.NoError(t, json.Unmarshal([]byte(out), &q))
	require.Len(t, q.Lines, 2)
	require.Equal(t, 1888.0, q.Totals.Total)

	_, err = run(t, "quote", "-t", "@000003:zero")
	require.Error(t, err)
}

func TestQuoteCommandRunsInProductionShell(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("ADMIN_JWT_SECRET", "")
	t.Setenv("BILLING_GST_BPS", "1800")
	out, err := run(t, "quote", "-t", "@000004")
	require.NoError(t, err)

	var q billing.Quote
	require.NoError(t, json.Unmarshal([]byte(out), &q))
	require.Equal(t, 826.0, q.Totals.Total)
}

func TestParseItems(t *testing.T) {
	items, err := parseItems([]string{"@000001", " @000003:3 "})
	require.NoError(t, err)
	require.Equal(t, []billing.QuoteItem{
		{TestID: "@000001", Quantity: 1},
		{TestID: "@000003", Quantity: 3},
	}, items)

	_, err = parseItems([]string{":2"})
	require.Error(t, err)

	_, err = parseItems([]string{"@000004:1125899906842624"})
	require.ErrorContains(t, err, "exceeds")
}
