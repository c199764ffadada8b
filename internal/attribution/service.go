package attribution

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"referral-rewards/internal/store"
	"referral-rewards/pkg/models"

	"go.uber.org/zap"
)

// Service принимает решение об атрибуции по входящему событию /start.
// Политика — первая атрибуция выигрывает: повторный /start никогда не
// меняет существующую запись, с каким бы кодом он ни пришел.
type Service struct {
	identityRepo store.IdentityRepository
	codeRepo     store.CodeRepository
	logger       *zap.Logger
}

// NewService создает новый сервис атрибуции
func NewService(identityRepo store.IdentityRepository, codeRepo store.CodeRepository, logger *zap.Logger) *Service {
	return &Service{
		identityRepo: identityRepo,
		codeRepo:     codeRepo,
		logger:       logger,
	}
}

// Attribute выполняет атрибуцию нового пользователя не более одного раза.
// Неизвестный или пустой код дает органического пользователя: запись все
// равно создается, чтобы позже по ней находились события покупок.
// Конкурентные вызовы для одного пользователя сериализуются условной
// вставкой в хранилище: ровно одно создание выигрывает, остальные вызовы
// возвращают запись победителя с Created=false.
func (s *Service) Attribute(ctx context.Context, event *models.StartEvent) (*models.AttributionResult, error) {
	if !event.Integration.IsValid() {
		return nil, fmt.Errorf("неизвестная интеграция: %s", event.Integration)
	}
	if event.ExternalUserID == "" {
		return nil, fmt.Errorf("пустой внешний идентификатор пользователя")
	}

	user := &models.ReferredUser{
		Integration:    event.Integration,
		ExternalUserID: event.ExternalUserID,
		Username:       event.Username,
	}

	// Разрешаем код до вставки: поля атрибуции неизменяемы после создания
	code := normalizeCode(event.StartArgument)
	if code != "" {
		referralCode, err := s.codeRepo.GetByCode(ctx, code)
		switch {
		case errors.Is(err, store.ErrNotFound):
			s.logger.Warn("неизвестный реферальный код, пользователь будет органическим",
				zap.String("code", code),
				zap.String("external_user_id", event.ExternalUserID))
		case err != nil:
			return nil, fmt.Errorf("ошибка разрешения реферального кода: %w", err)
		case !referralCode.Active:
			s.logger.Warn("реферальный код деактивирован",
				zap.String("code", code))
		default:
			selfReferral, err := s.isSelfReferral(ctx, event, referralCode.ReferrerID)
			if err != nil {
				return nil, err
			}
			if selfReferral {
				s.logger.Warn("отклонена попытка самореферала",
					zap.String("code", code),
					zap.String("external_user_id", event.ExternalUserID))
			} else {
				user.ReferralCode = &referralCode.Code
				user.ReferrerID = &referralCode.ReferrerID
			}
		}
	}

	created, createdNow, err := s.identityRepo.CreateIfAbsent(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("ошибка атрибуции: %w", err)
	}

	if !createdNow {
		// Первая атрибуция уже состоялась: присланный код игнорируется
		s.logger.Debug("повторный /start, атрибуция не изменена",
			zap.Int64("user_id", created.ID),
			zap.String("external_user_id", event.ExternalUserID))
	} else {
		s.logger.Info("атрибуция выполнена",
			zap.Int64("user_id", created.ID),
			zap.String("external_user_id", event.ExternalUserID),
			zap.Bool("organic", created.IsOrganic()))
	}

	return &models.AttributionResult{
		Created: createdNow,
		User:    created,
	}, nil
}

// isSelfReferral проверяет, не принадлежит ли код аккаунту самого пользователя
func (s *Service) isSelfReferral(ctx context.Context, event *models.StartEvent, referrerID int64) (bool, error) {
	referrer, err := s.codeRepo.GetReferrerByID(ctx, referrerID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("ошибка получения реферера: %w", err)
	}

	return referrer.Integration == event.Integration && referrer.ExternalUserID == event.ExternalUserID, nil
}

// normalizeCode убирает префикс ref_ из аргумента deep-link ссылки
func normalizeCode(arg string) string {
	arg = strings.TrimSpace(arg)
	return strings.TrimPrefix(arg, "ref_")
}
