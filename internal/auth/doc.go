// Package auth issues and verifies the session tokens used by coven-chat.
//
// Users sign up or log in with an email and password. Passwords are stored as
// bcrypt hashes (HashPassword, CheckPassword). A successful login yields an
// HS256 JWT whose "sub" claim is the user id:
//
//	v, err := NewJWTVerifier(secret)
//	token, err := v.Generate(userID, 24*time.Hour)
//	userID, err := v.Verify(token)
//
// HTTPAuthMiddleware guards the gateway's query, write and live endpoints.
// Handlers read the caller with FromContext or UserID.
package auth
