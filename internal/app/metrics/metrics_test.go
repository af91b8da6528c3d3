package metrics

import "testing"

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"/v1/orders":                    "/v1/orders",
		"/v1/orders/abc-123":            "/v1/orders/:id",
		"/v1/accounts/42/deposit":       "/v1/accounts/:id/deposit",
		"/v1/admin/orders/42/decision":  "/v1/admin/orders/:id/decision",
		"/v1/admin/kyc/7/decision":      "/v1/admin/kyc/:id/decision",
		"/v1/admin/wallets/9/verify":    "/v1/admin/wallets/:id/verify",
		"/healthz":                      "/healthz",
		"/v1/accounts/42/holdings":      "/v1/accounts/:id/holdings",
	}
	for in, want := range cases {
		if got := canonicalPath(in); got != want {
			t.Fatalf("canonicalPath(%q) = %q, want %q", in, got, want)
		}
	}
}
