package obs

import "testing"

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                              "/",
		"/metrics":                      "/metrics",
		"/v1/sessions":                  "/v1/sessions",
		"/v1/sessions/abc/heartbeat":    "/v1/sessions/:id/heartbeat",
		"/v1/sessions/abc/end":          "/v1/sessions/:id/end",
		"/v1/sessions/sync":             "/v1/sessions/sync",
		"/v1/roles/01H0ABC":             "/v1/roles/:id",
		"/v1/modules/01H0DEF":           "/v1/modules/:id",
		"/v1/companies/c1/modules/m1":   "/v1/companies/:id/modules/:module_id",
		"/v1/daily-logs?date=2026-01-01": "/v1/daily-logs",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}
