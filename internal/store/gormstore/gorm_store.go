package gormstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"upagent/internal/market"
	storemodel "upagent/internal/store/model"
)

// 中文说明：
// 订单存储：下单即记一行，组合流回报到达后按 broker_order_id 更新状态。

type orderModel = storemodel.OrderModel

// GormStore implements order persistence using Gorm + SQLite.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore initializes a new GormStore instance.
func NewGormStore(path string) (*GormStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("gorm store: 订单库路径不能为空")
	}
	if err := ensureDir(path); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   gormlogger.Default.LogMode(gormlogger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&orderModel{}); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite + WAL: allow a small amount of parallelism for concurrent HTTP reads
	// while keeping lock contention low.
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &GormStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *GormStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// SQLDB exposes the underlying *sql.DB for shared connections.
func (s *GormStore) SQLDB() (*sql.DB, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("gorm store 未初始化")
	}
	return s.db.DB()
}

// SaveOrder 在订单提交后立即落库。
func (s *GormStore) SaveOrder(ctx context.Context, req market.OrderRequest, res market.OrderResult, traceID string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("gorm store 未初始化")
	}
	raw, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("序列化订单请求失败: %w", err)
	}
	now := time.Now().Unix()
	m := orderModel{
		BrokerOrderID: res.OrderID,
		TraceID:       traceID,
		InstrumentKey: req.InstrumentKey,
		Side:          strings.ToUpper(req.Side),
		Quantity:      req.Quantity,
		OrderType:     req.OrderType,
		Product:       req.Product,
		LimitPrice:    req.LimitPrice,
		StopLoss:      req.StopLoss,
		TakeProfit:    req.TakeProfit,
		Status:        storemodel.OrderStatusSubmitted,
		RequestJSON:   datatypes.JSON(raw),
		CreatedAtUnix: now,
		UpdatedAtUnix: now,
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "broker_order_id"}},
		DoNothing: true,
	}).Create(&m).Error
}

// ApplyOrderUpdate 把组合流回报合并进订单行。未知订单静默忽略。
func (s *GormStore) ApplyOrderUpdate(ctx context.Context, update market.OrderUpdate) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("gorm store 未初始化")
	}
	updates := map[string]interface{}{
		"status":        statusFromBroker(update.Status),
		"filled_qty":    update.FilledQty,
		"average_price": update.AveragePrice,
		"updated_at":    time.Now().Unix(),
	}
	return s.db.WithContext(ctx).Model(&orderModel{}).
		Where("broker_order_id = ?", update.OrderID).
		Updates(updates).Error
}

// ListOrdersToday 返回当日订单（时间倒序），limit<=0 表示不限。
func (s *GormStore) ListOrdersToday(ctx context.Context, limit int) ([]storemodel.OrderModel, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("gorm store 未初始化")
	}
	dayStart := startOfDay(time.Now()).Unix()
	q := s.db.WithContext(ctx).Model(&orderModel{}).
		Where("created_at >= ?", dayStart).
		Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var out []storemodel.OrderModel
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func statusFromBroker(raw string) storemodel.OrderStatus {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "complete", "filled":
		return storemodel.OrderStatusComplete
	case "rejected":
		return storemodel.OrderStatusRejected
	case "cancelled", "canceled":
		return storemodel.OrderStatusCancelled
	case "open", "trigger pending", "after market order req received":
		return storemodel.OrderStatusSubmitted
	default:
		return storemodel.OrderStatusUnknown
	}
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
