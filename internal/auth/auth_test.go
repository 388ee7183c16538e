package auth

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/kamilllllllllllllllll/lightning-server/internal/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	gdb, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "auth.db")), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := gdb.AutoMigrate(&models.User{}, &models.RefreshToken{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return gdb
}

func TestHashPassword(t *testing.T) {
	tests := []struct {
		name     string
		password string
		wantErr  bool
	}{
		{"valid password", "password123", false},
		{"empty password", "", false},
		{"long password", "a" + string(make([]byte, 70)), false}, // bcrypt max is 72 bytes
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hash, err := HashPassword(tt.password)
			if (err != nil) != tt.wantErr {
				t.Errorf("HashPassword() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && hash == "" {
				t.Error("HashPassword() returned empty hash")
			}
		})
	}
}

func TestVerifyPassword(t *testing.T) {
	password := "testpassword123"
	hash, err := HashPassword(password)
	if err != nil {
		t.Fatalf("HashPassword() error = %v", err)
	}

	tests := []struct {
		name     string
		hash     string
		password string
		want     bool
	}{
		{"correct password", hash, password, true},
		{"wrong password", hash, "wrongpassword", false},
		{"empty password", hash, "", false},
		{"invalid hash", "invalidhash", password, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := VerifyPassword(tt.hash, tt.password); got != tt.want {
				t.Errorf("VerifyPassword() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGenerateAccessToken(t *testing.T) {
	tests := []struct {
		name       string
		userID     uint
		secret     string
		ttlMinutes int
		wantErr    bool
	}{
		{"valid token", 1, "test-secret", 15, false},
		{"zero user id", 0, "test-secret", 15, false},
		{"empty secret", 1, "", 15, false},
		{"zero ttl", 1, "test-secret", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, err := GenerateAccessToken(tt.userID, "tester", tt.secret, tt.ttlMinutes)
			if (err != nil) != tt.wantErr {
				t.Errorf("GenerateAccessToken() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && token == "" {
				t.Error("GenerateAccessToken() returned empty token")
			}
		})
	}
}

func TestParseAccessToken(t *testing.T) {
	secret := "test-secret-key"
	userID := uint(42)

	token, err := GenerateAccessToken(userID, "Alice", secret, 15)
	if err != nil {
		t.Fatalf("GenerateAccessToken() error = %v", err)
	}

	tests := []struct {
		name    string
		token   string
		secret  string
		wantUID uint
		wantErr bool
	}{
		{"valid token", token, secret, userID, false},
		{"wrong secret", token, "wrong-secret", 0, true},
		{"invalid token", "invalid.token.here", secret, 0, true},
		{"empty token", "", secret, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims, err := ParseAccessToken(tt.token, tt.secret)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseAccessToken() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr {
				if claims.UserID != tt.wantUID {
					t.Errorf("ParseAccessToken() UserID = %v, want %v", claims.UserID, tt.wantUID)
				}
				if claims.DisplayName != "Alice" {
					t.Errorf("ParseAccessToken() DisplayName = %q, want Alice", claims.DisplayName)
				}
			}
		})
	}
}

func TestParseAccessToken_Expired(t *testing.T) {
	secret := "test-secret"
	// Generate token with -1 minute TTL (already expired)
	token, err := GenerateAccessToken(1, "tester", secret, -1)
	if err != nil {
		t.Fatalf("GenerateAccessToken() error = %v", err)
	}

	claims, err := ParseAccessToken(token, secret)
	if err == nil {
		t.Error("ParseAccessToken() should return error for expired token")
	}
	if claims != nil {
		t.Error("ParseAccessToken() should return nil claims for expired token")
	}
}

func TestGenerateRefreshToken(t *testing.T) {
	token1, err := GenerateRefreshToken()
	if err != nil {
		t.Fatalf("GenerateRefreshToken() error = %v", err)
	}
	token2, err := GenerateRefreshToken()
	if err != nil {
		t.Fatalf("GenerateRefreshToken() error = %v", err)
	}

	if token1 == "" {
		t.Error("GenerateRefreshToken() returned empty token")
	}
	if token1 == token2 {
		t.Error("GenerateRefreshToken() should generate unique tokens")
	}
	// Check token length (hex encoded 32 bytes = 64 chars)
	if len(token1) != 64 {
		t.Errorf("GenerateRefreshToken() token length = %d, want 64", len(token1))
	}
}

func TestRefreshToken_SaveAndValidate(t *testing.T) {
	gdb := newTestDB(t)

	token, err := GenerateRefreshToken()
	if err != nil {
		t.Fatalf("GenerateRefreshToken() error = %v", err)
	}
	if err := SaveRefreshToken(gdb, 7, token, time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("SaveRefreshToken() error = %v", err)
	}

	// Plaintext must not be stored
	var rec models.RefreshToken
	if err := gdb.First(&rec).Error; err != nil {
		t.Fatalf("load record: %v", err)
	}
	if rec.TokenHash == token {
		t.Error("SaveRefreshToken() stored the plaintext token")
	}

	got, err := ValidateRefreshToken(gdb, token)
	if err != nil {
		t.Fatalf("ValidateRefreshToken() error = %v", err)
	}
	if got.UserID != 7 {
		t.Errorf("ValidateRefreshToken() UserID = %d, want 7", got.UserID)
	}

	if _, err := ValidateRefreshToken(gdb, "not-the-token"); err == nil {
		t.Error("ValidateRefreshToken() should reject an unknown token")
	}
}

func TestRefreshToken_Expired(t *testing.T) {
	gdb := newTestDB(t)

	token, _ := GenerateRefreshToken()
	if err := SaveRefreshToken(gdb, 1, token, time.Now().Add(-time.Minute)); err != nil {
		t.Fatalf("SaveRefreshToken() error = %v", err)
	}
	if _, err := ValidateRefreshToken(gdb, token); err == nil {
		t.Error("ValidateRefreshToken() should reject an expired token")
	}
}

func TestRefreshToken_Revoke(t *testing.T) {
	gdb := newTestDB(t)

	token, _ := GenerateRefreshToken()
	if err := SaveRefreshToken(gdb, 1, token, time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("SaveRefreshToken() error = %v", err)
	}
	rec, err := ValidateRefreshToken(gdb, token)
	if err != nil {
		t.Fatalf("ValidateRefreshToken() error = %v", err)
	}
	if err := RevokeRefreshToken(gdb, rec.ID); err != nil {
		t.Fatalf("RevokeRefreshToken() error = %v", err)
	}
	if _, err := ValidateRefreshToken(gdb, token); err == nil {
		t.Error("ValidateRefreshToken() should reject a revoked token")
	}
}

func TestRefreshToken_MultiplePerUser(t *testing.T) {
	gdb := newTestDB(t)

	t1, _ := GenerateRefreshToken()
	t2, _ := GenerateRefreshToken()
	exp := time.Now().Add(time.Hour)
	if err := SaveRefreshToken(gdb, 3, t1, exp); err != nil {
		t.Fatalf("SaveRefreshToken() error = %v", err)
	}
	if err := SaveRefreshToken(gdb, 3, t2, exp); err != nil {
		t.Fatalf("SaveRefreshToken() error = %v", err)
	}

	// No single-session enforcement: both stay valid
	if _, err := ValidateRefreshToken(gdb, t1); err != nil {
		t.Errorf("first token should stay valid: %v", err)
	}
	if _, err := ValidateRefreshToken(gdb, t2); err != nil {
		t.Errorf("second token should stay valid: %v", err)
	}
}
