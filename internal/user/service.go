// Package user はユーザー登録・プロフィール更新・退会を扱う。
package user

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/segmentio/ksuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/hitoshi/bookshare/internal/model"
	"github.com/hitoshi/bookshare/internal/repository"
	"github.com/hitoshi/bookshare/internal/security"
)

// minPasswordLength はパスワードの最小文字数。
const minPasswordLength = 8

// RegisterRequest はユーザー登録リクエストを表す。
type RegisterRequest struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
	School    string
}

// UpdateProfileRequest はプロフィール更新リクエストを表す。nilのフィールドは変更しない。
type UpdateProfileRequest struct {
	Email     *string
	FirstName *string
	LastName  *string
	School    *string
}

// PasswordHasher はパスワードのハッシュ化を行う。
type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(hash, password string) bool
}

// BcryptHasher はbcryptによるPasswordHasherの実装。
type BcryptHasher struct{ Cost int }

func (b BcryptHasher) Hash(password string) (string, error) {
	cost := b.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	h, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

func (b BcryptHasher) Verify(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// Service はユーザー管理のサービス層。
type Service struct {
	userRepo  repository.UserRepository
	hasher    PasswordHasher
	sanitizer *security.TextSanitizer
	now       func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。hasherがnilの場合はbcryptを使用する。
func NewService(userRepo repository.UserRepository, hasher PasswordHasher) *Service {
	if hasher == nil {
		hasher = BcryptHasher{}
	}
	return &Service{
		userRepo:  userRepo,
		hasher:    hasher,
		sanitizer: security.NewTextSanitizer(),
		now:       time.Now,
	}
}

// Register はユーザーを登録する。招待コードはKSUIDで発行する。
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*model.User, error) {
	email, err := normalizeEmail(req.Email)
	if err != nil {
		return nil, err
	}
	if len(req.Password) < minPasswordLength {
		return nil, model.NewValidationError(fmt.Sprintf("passwordは%d文字以上で指定してください", minPasswordLength))
	}
	firstName := s.sanitizer.Sanitize(req.FirstName)
	lastName := s.sanitizer.Sanitize(req.LastName)
	if firstName == "" || lastName == "" {
		return nil, model.NewValidationError("firstnameとlastnameは必須です")
	}

	existing, err := s.userRepo.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの検索に失敗しました: %w", err)
	}
	if existing != nil {
		return nil, model.NewUserAlreadyExistsError()
	}

	hash, err := s.hasher.Hash(req.Password)
	if err != nil {
		return nil, fmt.Errorf("パスワードのハッシュ化に失敗しました: %w", err)
	}

	now := s.now()
	u := &model.User{
		Email:          email,
		PasswordHash:   hash,
		FirstName:      firstName,
		LastName:       lastName,
		School:         s.sanitizer.Sanitize(req.School),
		InvitationCode: ksuid.New().String(),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.userRepo.Create(ctx, u); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, model.NewUserAlreadyExistsError()
		}
		return nil, fmt.Errorf("ユーザーの作成に失敗しました: %w", err)
	}
	return u, nil
}

// Get はユーザーを取得する。
func (s *Service) Get(ctx context.Context, userID int64) (*model.User, error) {
	u, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if u == nil {
		return nil, model.NewUserNotFoundError(userID)
	}
	return u, nil
}

// UpdateProfile はプロフィールを部分更新する。
func (s *Service) UpdateProfile(ctx context.Context, userID int64, req UpdateProfileRequest) (*model.User, error) {
	var update model.ProfileUpdate
	if req.Email != nil {
		email, err := normalizeEmail(*req.Email)
		if err != nil {
			return nil, err
		}
		update.Email = &email
	}
	if req.FirstName != nil {
		v := s.sanitizer.Sanitize(*req.FirstName)
		if v == "" {
			return nil, model.NewValidationError("firstnameは空にできません")
		}
		update.FirstName = &v
	}
	if req.LastName != nil {
		v := s.sanitizer.Sanitize(*req.LastName)
		if v == "" {
			return nil, model.NewValidationError("lastnameは空にできません")
		}
		update.LastName = &v
	}
	if req.School != nil {
		v := s.sanitizer.Sanitize(*req.School)
		update.School = &v
	}

	u, err := s.userRepo.UpdateProfile(ctx, userID, update)
	if errors.Is(err, repository.ErrDuplicate) {
		return nil, model.NewUserAlreadyExistsError()
	}
	if err != nil {
		return nil, fmt.Errorf("プロフィールの更新に失敗しました: %w", err)
	}
	if u == nil {
		return nil, model.NewUserNotFoundError(userID)
	}
	return u, nil
}

// Authenticate はメールアドレスとパスワードを検証し、一致したユーザーを返す。
// ユーザーが存在しない場合もパスワード不一致と同じエラーを返す。
func (s *Service) Authenticate(ctx context.Context, email, password string) (*model.User, error) {
	normalized, err := normalizeEmail(email)
	if err != nil {
		return nil, model.NewInvalidCredentialsError()
	}
	u, err := s.userRepo.FindByEmail(ctx, normalized)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if u == nil || !s.hasher.Verify(u.PasswordHash, password) {
		return nil, model.NewInvalidCredentialsError()
	}
	return u, nil
}

// Delete はユーザーを退会させる。
// 友達エッジ、貸出中の本、本棚、タイムラインはリポジトリが同一トランザクションで整理する。
func (s *Service) Delete(ctx context.Context, userID int64) error {
	deleted, err := s.userRepo.DeleteCascade(ctx, userID, s.now())
	if err != nil {
		return fmt.Errorf("ユーザーの削除に失敗しました: %w", err)
	}
	if !deleted {
		return model.NewUserNotFoundError(userID)
	}
	return nil
}

// normalizeEmail はメールアドレスを検証し、小文字に正規化する。
func normalizeEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	if email == "" {
		return "", model.NewValidationError("emailは必須です")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", model.NewValidationError("emailの形式が不正です")
	}
	return email, nil
}
