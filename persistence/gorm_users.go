package persistence

import (
	"context"

	"github.com/pkg/errors"
	"github.com/tcriess/stride-chat/errs"
	"github.com/tcriess/stride-chat/types"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func (p *GormStore) StoreUser(ctx context.Context, user *types.User) error {
	user.UpdatedAt = p.now()
	err := p.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(user).Error
	return classify(err, "store user")
}

func (p *GormStore) GetUser(ctx context.Context, userId string) (*types.User, error) {
	user := &types.User{}
	err := p.db.WithContext(ctx).Where("id = ?", userId).First(user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errs.ErrUserNotFound
	}
	if err != nil {
		return nil, classify(err, "get user")
	}
	return user, nil
}

func (p *GormStore) DeleteUser(ctx context.Context, userId string) error {
	err := p.db.WithContext(ctx).Where("id = ?", userId).Delete(&types.User{}).Error
	return classify(err, "delete user")
}
