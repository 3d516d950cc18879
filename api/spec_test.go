package api

import "testing"

func TestLoad(t *testing.T) {
	doc, err := Load()
	if err != nil {
		t.Fatalf("embedded document invalid: %v", err)
	}
	for _, path := range []string{"/v1/orders/fill", "/v1/options/{id}/exercise", "/v1/admin/emergency/{symbol}"} {
		if doc.Paths.Find(path) == nil {
			t.Errorf("missing path %s", path)
		}
	}
}
