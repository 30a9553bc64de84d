// Package auth はメールアドレスとパスワードによる認証フローを提供する。
//
// 登録・メール確認・ログイン・トークン更新・ログアウト・パスワード再設定・役割選択を
// Credential Store、ワンタイムコード、トークンの各コンポーネントを組み合わせて実現する。
// 未登録メールアドレスへの問い合わせはレスポンスから存在を推測されないよう、
// 登録済みの場合と同一の形で応答する。
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/dealhub/internal/mail"
	"github.com/hitoshi/dealhub/internal/metrics"
	"github.com/hitoshi/dealhub/internal/model"
	"github.com/hitoshi/dealhub/internal/otp"
	"github.com/hitoshi/dealhub/internal/repository"
	"github.com/hitoshi/dealhub/internal/security"
	"github.com/hitoshi/dealhub/internal/token"
)

// レスポンスメッセージ
const (
	MessageRegistered       = "Registered successfully. Please check your email to verify."
	MessageResent           = "Verification code resent. Please check your email."
	MessageGeneric          = "If that email exists, a code has been sent."
	MessageEmailVerified    = "Email verified."
	MessagePasswordReset    = "Password has been reset. You can now log in."
	MessageLoggedOut        = "Logged out"
	MessageRoleSelected     = "Role selected"
	messageLoginUnverified  = "Please verify your email before logging in."
	messageSelectUnverified = "Verify email first"
)

// dummyPassword はユーザー不在時の比較に使うダミーハッシュの元になる値。
const dummyPassword = "dealhub-dummy-password-for-timing"

// RotationPolicy はリフレッシュ時のリフレッシュトークンの扱いを表す。
type RotationPolicy string

const (
	// RotationStatic はリフレッシュトークンをログイン時のまま使い続ける。
	RotationStatic RotationPolicy = "static"
	// RotationRotate はリフレッシュのたびに新しいリフレッシュトークンへ置き換える。
	RotationRotate RotationPolicy = "rotate"
)

// IsValid は定義済みのポリシーかどうかを返す。
func (p RotationPolicy) IsValid() bool {
	return p == RotationStatic || p == RotationRotate
}

// CodeLedger はワンタイムコードの発行と検証のインターフェース。
type CodeLedger interface {
	Issue(ctx context.Context, userID string, purpose model.CodePurpose) (string, error)
	Verify(ctx context.Context, userID string, purpose model.CodePurpose, candidate string) error
}

// TokenIssuer はアクセストークン・リフレッシュトークンの発行と検証のインターフェース。
type TokenIssuer interface {
	IssueAccessToken(c token.AccessClaims) (string, error)
	IssueRefreshToken(userID string) (string, error)
	VerifyRefreshToken(raw string) (*token.Claims, error)
}

// MailDeliverer はメールを非同期に配送するインターフェース。
// Deliverはブロックせず、配送結果を呼び出し元に返さない。
type MailDeliverer interface {
	Deliver(msg mail.Message)
}

// EventRecorder は認証イベントのメトリクスを記録するインターフェース。
type EventRecorder interface {
	RecordAuthEvent(operation, outcome string)
	RecordOTPVerification(purpose, outcome string)
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	// CodeTTL はメール本文に記載するコードの有効期間。ゼロの場合はotp.DefaultTTL。
	CodeTTL time.Duration
	// Rotation はリフレッシュトークンの更新ポリシー。空の場合はRotationStatic。
	Rotation RotationPolicy
	// DecoyKey は未登録メールアドレス用ダミーIDの導出鍵。
	DecoyKey []byte
}

// RegisterInput は登録リクエストの入力。
type RegisterInput struct {
	Name     string
	Email    string
	Password string
}

// RegisterResult は登録結果。
// Createdがfalseの場合は未確認の既存アカウントを上書きしてコードを再送したことを示す。
type RegisterResult struct {
	UserID  string
	Created bool
	Message string
}

// GenericResult はメールアドレスの存在を明かさない共通レスポンス。
type GenericResult struct {
	UserID  string
	Message string
}

// LoginResult はログイン結果。
type LoginResult struct {
	AccessToken  string
	RefreshToken string
	User         model.UserSummary
}

// RefreshResult はリフレッシュ結果。
// RefreshTokenはRotationRotateの場合のみ設定される。
type RefreshResult struct {
	AccessToken  string
	RefreshToken string
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	users     repository.UserRepository
	ledger    CodeLedger
	tokens    TokenIssuer
	hasher    security.Hasher
	mailer    MailDeliverer
	events    EventRecorder
	sanitizer security.NameSanitizer
	config    ServiceConfig
	dummyHash string
}

// NewService はServiceを生成する。
// ユーザー不在時の比較に使うダミーハッシュを生成するため、ハッシュ化に失敗するとエラーを返す。
func NewService(
	users repository.UserRepository,
	ledger CodeLedger,
	tokens TokenIssuer,
	hasher security.Hasher,
	mailer MailDeliverer,
	events EventRecorder,
	config ServiceConfig,
) (*Service, error) {
	if config.Rotation == "" {
		config.Rotation = RotationStatic
	}
	if !config.Rotation.IsValid() {
		return nil, fmt.Errorf("unknown refresh rotation policy %q", config.Rotation)
	}
	if len(config.DecoyKey) == 0 {
		return nil, errors.New("decoy key is required")
	}
	if events == nil {
		events = metrics.Nop{}
	}
	dummy, err := hasher.Hash(dummyPassword)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare dummy hash: %w", err)
	}
	return &Service{
		users:     users,
		ledger:    ledger,
		tokens:    tokens,
		hasher:    hasher,
		mailer:    mailer,
		events:    events,
		sanitizer: security.NewNameSanitizer(),
		config:    config,
		dummyHash: dummy,
	}, nil
}

// Register は新規ユーザーを登録し、確認コードをメール送付する。
// 未確認の既存アカウントは表示名とパスワードを上書きしてコードを再発行する。
// 確認済みアカウントのメールアドレスはConflictとしてメールを送らない。
func (s *Service) Register(ctx context.Context, in RegisterInput) (*RegisterResult, error) {
	name, err := sanitizeName(s.sanitizer, in.Name)
	if err != nil {
		s.events.RecordAuthEvent("register", "invalid")
		return nil, err
	}
	email := NormalizeEmail(in.Email)
	if err := validateEmail(email); err != nil {
		s.events.RecordAuthEvent("register", "invalid")
		return nil, err
	}
	if err := validatePassword(in.Password); err != nil {
		s.events.RecordAuthEvent("register", "invalid")
		return nil, err
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	// 1. 既存ユーザーを検索
	existing, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}

	// 2. 未登録なら新規作成
	if existing == nil {
		now := time.Now().UTC()
		user := &model.User{
			ID:           uuid.New().String(),
			Email:        email,
			Name:         name,
			PasswordHash: hash,
			Role:         model.RoleUnassigned,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		err := s.users.Create(ctx, user)
		if err == nil {
			if err := s.sendVerification(ctx, user); err != nil {
				return nil, err
			}
			s.events.RecordAuthEvent("register", "created")
			slog.Info("ユーザーを登録しました", slog.String("user_id", user.ID))
			return &RegisterResult{UserID: user.ID, Created: true, Message: MessageRegistered}, nil
		}
		if !errors.Is(err, repository.ErrDuplicateEmail) {
			return nil, fmt.Errorf("failed to create user: %w", err)
		}
		// 並行した登録に先を越された場合は既存アカウントとして扱う
		existing, err = s.users.FindByEmail(ctx, email)
		if err != nil {
			return nil, fmt.Errorf("failed to find user by email: %w", err)
		}
		if existing == nil {
			return nil, errors.New("user vanished after duplicate email")
		}
	}

	// 3. 確認済みアカウントは登録不可
	if existing.EmailVerified {
		s.events.RecordAuthEvent("register", "conflict")
		return nil, model.NewEmailInUseError()
	}

	// 4. 未確認アカウントは上書きしてコードを再発行
	// 検索後に確認済みとなった場合もストア側の条件付き更新で拒否される
	if err := s.users.UpdateProfile(ctx, existing.ID, name, hash); err != nil {
		if errors.Is(err, repository.ErrAlreadyVerified) {
			s.events.RecordAuthEvent("register", "conflict")
			return nil, model.NewEmailInUseError()
		}
		return nil, fmt.Errorf("failed to update unverified user: %w", err)
	}
	existing.Name = name
	if err := s.sendVerification(ctx, existing); err != nil {
		return nil, err
	}
	s.events.RecordAuthEvent("register", "resent")
	slog.Info("未確認ユーザーの登録情報を更新しました", slog.String("user_id", existing.ID))
	return &RegisterResult{UserID: existing.ID, Created: false, Message: MessageResent}, nil
}

// ResendVerification は未確認アカウントに確認コードを再送する。
// メールアドレスの登録有無や確認状態にかかわらず同一の形のレスポンスを返す。
func (s *Service) ResendVerification(ctx context.Context, rawEmail string) (*GenericResult, error) {
	email := NormalizeEmail(rawEmail)
	if err := validateEmail(email); err != nil {
		return nil, err
	}

	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}
	if user == nil {
		s.hasher.Compare(s.dummyHash, email)
		s.events.RecordAuthEvent("resend", "unknown")
		return s.generic(email), nil
	}
	if user.EmailVerified {
		s.events.RecordAuthEvent("resend", "already_verified")
		return &GenericResult{UserID: user.ID, Message: MessageGeneric}, nil
	}

	if err := s.sendVerification(ctx, user); err != nil {
		return nil, err
	}
	s.events.RecordAuthEvent("resend", "sent")
	return &GenericResult{UserID: user.ID, Message: MessageGeneric}, nil
}

// VerifyEmail は確認コードを検証し、メールアドレスを確認済みにする。
func (s *Service) VerifyEmail(ctx context.Context, userID, code string) error {
	if err := validateUserID(userID); err != nil {
		return err
	}
	if err := validateCode(code); err != nil {
		return err
	}

	if err := s.verifyCode(ctx, userID, model.PurposeVerification, code); err != nil {
		return err
	}

	if err := s.users.MarkEmailVerified(ctx, userID); err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return model.NewUserNotFoundError()
		}
		return fmt.Errorf("failed to mark email verified: %w", err)
	}
	s.events.RecordAuthEvent("verify_email", "success")
	slog.Info("メールアドレスを確認しました", slog.String("user_id", userID))
	return nil
}

// Login はメールアドレスとパスワードを検証し、トークンを発行する。
// ユーザー不在とパスワード不一致は同一のエラーを返し、不在の場合もダミーハッシュと比較する。
func (s *Service) Login(ctx context.Context, rawEmail, password string) (*LoginResult, error) {
	email := NormalizeEmail(rawEmail)
	if email == "" || password == "" {
		s.events.RecordAuthEvent("login", "invalid")
		return nil, model.NewValidationError("Email and password are required")
	}

	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}
	if user == nil {
		s.hasher.Compare(s.dummyHash, password)
		s.events.RecordAuthEvent("login", "invalid_credentials")
		return nil, model.NewInvalidCredentialsError()
	}
	if !s.hasher.Compare(user.PasswordHash, password) {
		s.events.RecordAuthEvent("login", "invalid_credentials")
		slog.Info("ログインに失敗しました", slog.String("user_id", user.ID))
		return nil, model.NewInvalidCredentialsError()
	}
	if !user.EmailVerified {
		s.events.RecordAuthEvent("login", "unverified")
		return nil, model.NewEmailNotVerifiedError(messageLoginUnverified)
	}

	access, err := s.issueAccess(user)
	if err != nil {
		return nil, err
	}
	refresh, err := s.tokens.IssueRefreshToken(user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to issue refresh token: %w", err)
	}
	if err := s.users.SetRefreshToken(ctx, user.ID, token.Digest(refresh)); err != nil {
		return nil, fmt.Errorf("failed to store refresh token: %w", err)
	}

	s.events.RecordAuthEvent("login", "success")
	slog.Info("ログインしました", slog.String("user_id", user.ID))
	return &LoginResult{
		AccessToken:  access,
		RefreshToken: refresh,
		User:         user.Summary(),
	}, nil
}

// Refresh はリフレッシュトークンを検証し、新しいアクセストークンを発行する。
// トークンが署名・期限の検証に通っても、サーバー側に記録された現在のセッションと
// 一致しなければ拒否する。
func (s *Service) Refresh(ctx context.Context, raw string) (*RefreshResult, error) {
	if raw == "" {
		s.events.RecordAuthEvent("refresh", "missing")
		return nil, model.NewMissingRefreshTokenError()
	}

	claims, err := s.tokens.VerifyRefreshToken(raw)
	if err != nil {
		s.events.RecordAuthEvent("refresh", "invalid")
		return nil, model.NewInvalidRefreshTokenError()
	}
	user, err := s.users.FindByID(ctx, claims.Subject)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	digest := token.Digest(raw)
	if user == nil || !user.HasSession() ||
		subtle.ConstantTimeCompare([]byte(user.RefreshTokenHash), []byte(digest)) != 1 {
		s.events.RecordAuthEvent("refresh", "invalid")
		return nil, model.NewInvalidRefreshTokenError()
	}

	access, err := s.issueAccess(user)
	if err != nil {
		return nil, err
	}
	result := &RefreshResult{AccessToken: access}

	if s.config.Rotation == RotationRotate {
		next, err := s.tokens.IssueRefreshToken(user.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to issue refresh token: %w", err)
		}
		ok, err := s.users.RotateRefreshToken(ctx, user.ID, digest, token.Digest(next))
		if err != nil {
			return nil, fmt.Errorf("failed to rotate refresh token: %w", err)
		}
		if !ok {
			s.events.RecordAuthEvent("refresh", "reused")
			slog.Warn("使用済みのリフレッシュトークンが提示されました", slog.String("user_id", user.ID))
			return nil, model.NewInvalidRefreshTokenError()
		}
		result.RefreshToken = next
	}

	s.events.RecordAuthEvent("refresh", "success")
	return result, nil
}

// Logout はリフレッシュトークンに対応するセッションを破棄する。
// ベストエフォートで、トークンが無い・無効な場合も失敗しない。
func (s *Service) Logout(ctx context.Context, raw string) {
	s.events.RecordAuthEvent("logout", "success")
	if raw == "" {
		return
	}
	claims, err := s.tokens.VerifyRefreshToken(raw)
	if err != nil {
		return
	}
	if err := s.users.ClearRefreshToken(ctx, claims.Subject); err != nil && !errors.Is(err, repository.ErrUserNotFound) {
		slog.Error("セッションの破棄に失敗しました",
			slog.String("user_id", claims.Subject),
			slog.String("error", err.Error()),
		)
		return
	}
	slog.Info("ログアウトしました", slog.String("user_id", claims.Subject))
}

// ForgotPassword はパスワード再設定コードをメール送付する。
// メールアドレスの登録有無にかかわらず同一の形のレスポンスを返す。
func (s *Service) ForgotPassword(ctx context.Context, rawEmail string) (*GenericResult, error) {
	email := NormalizeEmail(rawEmail)
	if err := validateEmail(email); err != nil {
		return nil, err
	}

	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}
	if user == nil {
		s.hasher.Compare(s.dummyHash, email)
		s.events.RecordAuthEvent("forgot_password", "unknown")
		return s.generic(email), nil
	}

	code, err := s.ledger.Issue(ctx, user.ID, model.PurposePasswordReset)
	if err != nil {
		return nil, fmt.Errorf("failed to issue reset code: %w", err)
	}
	msg, err := mail.PasswordResetMessage(user.Email, code, s.codeTTL())
	if err != nil {
		slog.Error("パスワード再設定メールの生成に失敗しました",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
	} else {
		s.mailer.Deliver(msg)
	}

	s.events.RecordAuthEvent("forgot_password", "sent")
	return &GenericResult{UserID: user.ID, Message: MessageGeneric}, nil
}

// ResetPassword は再設定コードを検証してパスワードを更新する。
// 成功時は現在のセッションも破棄する。
func (s *Service) ResetPassword(ctx context.Context, userID, code, newPassword string) error {
	if err := validateUserID(userID); err != nil {
		return err
	}
	if err := validateCode(code); err != nil {
		return err
	}
	if err := validatePassword(newPassword); err != nil {
		return err
	}

	if err := s.verifyCode(ctx, userID, model.PurposePasswordReset, code); err != nil {
		return err
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	if err := s.users.UpdatePassword(ctx, userID, hash); err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return model.NewUserNotFoundError()
		}
		return fmt.Errorf("failed to update password: %w", err)
	}
	if err := s.users.ClearRefreshToken(ctx, userID); err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}

	s.events.RecordAuthEvent("reset_password", "success")
	slog.Info("パスワードを再設定しました", slog.String("user_id", userID))
	return nil
}

// SelectRole は確認済みユーザーの役割を設定する。
// 自己選択できる役割はsourcerとinvestorのみで、再選択も許可する。
func (s *Service) SelectRole(ctx context.Context, userID string, role model.Role) (model.Role, error) {
	if strings.TrimSpace(userID) == "" || role == "" {
		return "", model.NewValidationError("uid and role are required")
	}
	if err := validateUserID(userID); err != nil {
		return "", err
	}
	if !role.IsSelectable() {
		return "", model.NewInvalidRoleError()
	}

	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return "", model.NewUserNotFoundError()
	}
	if !user.EmailVerified {
		return "", model.NewEmailNotVerifiedError(messageSelectUnverified)
	}

	if err := s.users.UpdateRole(ctx, userID, role); err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return "", model.NewUserNotFoundError()
		}
		return "", fmt.Errorf("failed to update role: %w", err)
	}
	s.events.RecordAuthEvent("select_role", string(role))
	slog.Info("役割を設定しました",
		slog.String("user_id", userID),
		slog.String("role", string(role)),
	)
	return role, nil
}

// verifyCode はコードを検証し、台帳のエラーをAPIErrorへ変換する。
func (s *Service) verifyCode(ctx context.Context, userID string, purpose model.CodePurpose, code string) error {
	err := s.ledger.Verify(ctx, userID, purpose, code)
	switch {
	case err == nil:
		s.events.RecordOTPVerification(string(purpose), "success")
		return nil
	case errors.Is(err, otp.ErrNotFound):
		s.events.RecordOTPVerification(string(purpose), "not_found")
		return model.NewCodeNotFoundError()
	case errors.Is(err, otp.ErrTooManyAttempts):
		s.events.RecordOTPVerification(string(purpose), "too_many_attempts")
		slog.Warn("コードの試行回数が上限に達しました",
			slog.String("user_id", userID),
			slog.String("purpose", string(purpose)),
		)
		return model.NewTooManyAttemptsError()
	case errors.Is(err, otp.ErrInvalidOrExpired):
		s.events.RecordOTPVerification(string(purpose), "invalid_or_expired")
		return model.NewInvalidOrExpiredCodeError()
	default:
		return fmt.Errorf("failed to verify code: %w", err)
	}
}

// sendVerification は確認コードを発行してメール送付する。
// メールの生成・配送の失敗はリクエストを失敗させず、ログに記録する。
func (s *Service) sendVerification(ctx context.Context, user *model.User) error {
	code, err := s.ledger.Issue(ctx, user.ID, model.PurposeVerification)
	if err != nil {
		return fmt.Errorf("failed to issue verification code: %w", err)
	}
	msg, err := mail.VerificationMessage(user.Email, user.Name, code, s.codeTTL())
	if err != nil {
		slog.Error("確認メールの生成に失敗しました",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
		return nil
	}
	s.mailer.Deliver(msg)
	return nil
}

func (s *Service) codeTTL() time.Duration {
	if s.config.CodeTTL > 0 {
		return s.config.CodeTTL
	}
	return otp.DefaultTTL
}

func (s *Service) issueAccess(user *model.User) (string, error) {
	access, err := s.tokens.IssueAccessToken(token.AccessClaims{
		UserID: user.ID,
		Email:  user.Email,
		Role:   user.Role,
	})
	if err != nil {
		return "", fmt.Errorf("failed to issue access token: %w", err)
	}
	return access, nil
}

func (s *Service) generic(email string) *GenericResult {
	return &GenericResult{
		UserID:  decoyUserID(s.config.DecoyKey, email),
		Message: MessageGeneric,
	}
}
