package repository

import (
	"context"

	"wisefido-bioauth/internal/models"
)

// ProfileRepository 生物特征档案仓库
//
// Put/Clear 为独占写；Get/All 可并发读，且保证看到一致快照
// （不会观察到写了一半的档案）。Get 未命中时返回 (nil, nil)。
type ProfileRepository interface {
	// Put 按 person_id 插入或整体替换档案
	Put(ctx context.Context, profile models.Profile) error

	// Get 按 person_id 查询档案，不存在时返回 (nil, nil)
	Get(ctx context.Context, personID string) (*models.Profile, error)

	// All 返回全部档案的一致快照（Matcher 逐一打分用）
	All(ctx context.Context) ([]models.Profile, error)

	// Clear 删除全部档案（重置流程）
	Clear(ctx context.Context) error
}
