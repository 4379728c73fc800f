package middleware

import "testing"

func TestNormalizePath(t *testing.T) {
	const id = "a1b2c3d4-e5f6-7890-abcd-ef1234567890"

	tests := []struct {
		path string
		want string
	}{
		{"/health/live", "/health/live"},
		{"/health/ready", "/health/ready"},
		{"/metrics", "/metrics"},
		{"/attachments/upload", "/attachments/upload"},
		{"/storage/info", "/storage/info"},
		{"/storage/migrate", "/storage/migrate"},
		{"/storage/cleanup", "/storage/cleanup"},
		{"/attachments/download/" + id, "/attachments/download/{id}"},
		{"/attachments/" + id, "/attachments/{id}"},
		{"/attachments/" + id + "/description", "/attachments/{id}/description"},
		{"/attachments/invoice/42", "/attachments/{entity_type}/{entity_id}"},
		{"/attachments/expense/7", "/attachments/{entity_type}/{entity_id}"},
		// Неизвестные пути не нормализуются
		{"/unknown", "/unknown"},
		{"/attachments/", "/attachments/"},
	}

	for _, tt := range tests {
		if got := normalizePath(tt.path); got != tt.want {
			t.Errorf("normalizePath(%q) = %q, ожидается %q", tt.path, got, tt.want)
		}
	}
}

func TestIsUUID(t *testing.T) {
	if !isUUID("a1b2c3d4-e5f6-7890-abcd-ef1234567890") {
		t.Error("валидный UUID не распознан")
	}
	if isUUID("invoice") || isUUID("") || isUUID("42") {
		t.Error("не-UUID сегмент распознан как UUID")
	}
}
