package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jinzhu/copier"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	"github.com/layer-3/vaultgate/core"
)

// OpenSQLite opens a bun database on the sqlite driver selected by sqliteshim
func OpenSQLite(dsn string) (*bun.DB, error) {
	sqldb, err := sql.Open(sqliteshim.ShimName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// sqlite serialises writers anyway and in-memory databases are per connection
	sqldb.SetMaxOpenConns(1)
	return bun.NewDB(sqldb, sqlitedialect.New()), nil
}

// BunUserRepository stores users in the users table
type BunUserRepository struct {
	db  *bun.DB
	now func() time.Time
}

func NewBunUserRepository(ctx context.Context, db *bun.DB) (*BunUserRepository, error) {
	r := &BunUserRepository{
		db:  db,
		now: time.Now,
	}
	_, err := r.db.NewCreateTable().
		Model((*user)(nil)).
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return r, fmt.Errorf("failed to create repository: %w", err)
	}
	return r, nil
}

// FindOrCreate inserts the address unless it exists and returns the stored row.
// The bool is true when this call created the user.
func (r *BunUserRepository) FindOrCreate(ctx context.Context, address string) (core.User, bool, error) {
	address = strings.ToLower(address)
	u := &user{
		Address:   address,
		CreatedAt: r.now().UTC(),
	}
	res, err := r.db.NewInsert().
		Model(u).
		On("CONFLICT (address) DO NOTHING").
		Returning("NULL").
		Exec(ctx)
	if err != nil {
		return core.User{}, false, fmt.Errorf("failed to create user: %v: %w", err, core.ErrStoreOperationFailed)
	}

	created := false
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		created = true
	}

	usr, err := r.GetByAddress(ctx, address)
	if err != nil {
		return usr, false, err
	}
	return usr, created, nil
}

func (r *BunUserRepository) GetByAddress(ctx context.Context, address string) (core.User, error) {
	u := new(user)
	usr := core.User{}
	err := r.db.NewSelect().
		Model(u).
		Where("address = ?", strings.ToLower(address)).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return usr, fmt.Errorf("failed to get user: %w", core.ErrUserNotFound)
		}
		return usr, fmt.Errorf("failed to get user: %v: %w", err, core.ErrStoreOperationFailed)
	}
	copier.Copy(&usr, u)
	return usr, nil
}

func (r *BunUserRepository) Delete(ctx context.Context, address string) error {
	_, err := r.db.NewDelete().
		Model((*user)(nil)).
		Where("address = ?", strings.ToLower(address)).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to delete user: %v: %w", err, core.ErrStoreOperationFailed)
	}
	return nil
}

type user struct {
	bun.BaseModel `bun:"table:users"`

	ID              int64     `bun:",pk,autoincrement"`
	Address         string    `bun:",unique,notnull"`
	Email           string    `bun:",nullzero"`
	EmailVerifiedAt time.Time `bun:",nullzero"`
	CreatedAt       time.Time `bun:",notnull"`
}
