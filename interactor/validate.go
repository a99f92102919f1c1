package interactor

import (
	"context"
	"errors"

	"github.com/linklogin/magiclink-oauth/storage"
)

// ValidateRegistration consumes a registration token and marks its user
// verified. An expired token is not a dead end: a fresh link is mailed and
// the caller is told to check their inbox again.
func (i *Interactor) ValidateRegistration(ctx context.Context, tokenValue, ipAddress string) Result {
	if tokenValue == "" {
		return result(CodeInvalidToken, "Invalid or expired token")
	}

	now := i.now()
	token, err := i.store.FindEmailToken(ctx, tokenValue, false, now)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			i.logger.Error("Registration token lookup failed", "error", err)
			return result(CodeSystemError, "Validation is temporarily unavailable")
		}
		return result(CodeInvalidToken, "Invalid or expired token")
	}

	if token.TokenType != storage.EmailTokenRegistration {
		return result(CodeInvalidToken, "Invalid or expired token")
	}

	user, err := i.store.FindUser(ctx, token.UserID)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			i.logger.Error("User lookup failed", "error", err)
			return result(CodeSystemError, "Validation is temporarily unavailable")
		}
		return result(CodeUserNotFound, "Invalid or expired token")
	}

	if storage.Expired(token, now) {
		return i.reissueAndNotify(ctx, user.Email, token, ipAddress)
	}

	var validated bool
	txErr := i.store.WithinTransaction(ctx, func(ctx context.Context) error {
		consumed, err := i.store.DeleteEmailToken(ctx, token.Token)
		if err != nil {
			return err
		}
		if !consumed {
			// Lost a race with a concurrent validation of the same link.
			return nil
		}
		validated, err = i.store.MarkUserVerified(ctx, user.ID, now)
		return err
	})
	if txErr != nil {
		i.logger.Error("Registration validation failed", "error", txErr)
		return result(CodeSystemError, "Validation is temporarily unavailable")
	}
	if !validated {
		return result(CodeInvalidToken, "Invalid or expired token")
	}

	if i.auditor != nil {
		i.auditor.LogUserVerified(user.ID, ipAddress)
	}
	i.logger.Info("Registration validated", "user_id", user.ID)

	return result(CodeRegistrationValidated, "Your registration has been confirmed")
}

// ReissueExpiredToken replaces an expired link token with a fresh one and
// mails it. It reports outcomes only; callers present the result code and
// never see internal errors.
func (i *Interactor) ReissueExpiredToken(ctx context.Context, tokenValue, ipAddress string) Result {
	if tokenValue == "" {
		return result(CodeInvalidToken, "Invalid or expired token")
	}

	token, err := i.store.FindEmailToken(ctx, tokenValue, false, i.now())
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			i.logger.Error("Token lookup failed", "error", err)
			return result(CodeSystemError, "Reissue is temporarily unavailable")
		}
		return result(CodeInvalidToken, "Invalid or expired token")
	}

	user, err := i.store.FindUser(ctx, token.UserID)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			i.logger.Error("User lookup failed", "error", err)
			return result(CodeSystemError, "Reissue is temporarily unavailable")
		}
		return result(CodeUserNotFound, "Invalid or expired token")
	}

	if !storage.Expired(token, i.now()) {
		// The token still works; nothing to replace.
		return result(CodeInvalidToken, "The token has not expired")
	}

	return i.reissueAndNotify(ctx, user.Email, token, ipAddress)
}

// reissueAndNotify mints a replacement for an expired token, mails it, and
// retires the old secret so only the newest link works.
func (i *Interactor) reissueAndNotify(ctx context.Context, email string, expired *storage.EmailToken, ipAddress string) Result {
	fresh, err := i.factory.Reissue(ctx, expired)
	if err != nil {
		i.logger.Error("Token reissue failed", "error", err)
		return result(CodeSystemError, "Reissue is temporarily unavailable")
	}

	if err := i.deliver(ctx, email, fresh); err != nil {
		i.logger.Error("Reissued link delivery failed", "error", err)
		return result(CodeEmailSendFailed, "Could not send the replacement email")
	}

	if _, err := i.store.DeleteEmailToken(ctx, expired.Token); err != nil {
		i.logger.Warn("Failed to delete expired token after reissue", "error", err)
	}

	if i.auditor != nil {
		i.auditor.LogTokenReissued(expired.UserID, ipAddress, string(expired.TokenType))
	}

	return result(CodeTokenExpiredNewSent, "The link expired; a new one is on its way")
}
