package storage

import (
	"context"
	"database/sql"
)

// Row types and typed queries over the schema in migrations/.

type DBTX interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
	QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...interface{}) *sql.Row
}

type Queries struct {
	db DBTX
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx}
}

type Expense struct {
	ID          string
	UserID      string
	Description string
	Amount      string
	Category    string
	Date        string
	CreatedAt   string
}

type Category struct {
	ID     string
	UserID string
	Name   string
	Budget string
}

type User struct {
	UID          string
	Email        string
	PasswordHash []byte
	CreatedAt    string
}

type Profile struct {
	UID         string
	Email       string
	DisplayName string
	PhotoURL    string
	CreatedAt   string
}

const createExpense = `INSERT INTO expenses (id, user_id, description, amount, category, date, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`

type CreateExpenseParams struct {
	ID          string
	UserID      string
	Description string
	Amount      string
	Category    string
	Date        string
	CreatedAt   string
}

func (q *Queries) CreateExpense(ctx context.Context, arg CreateExpenseParams) error {
	_, err := q.db.ExecContext(ctx, createExpense,
		arg.ID,
		arg.UserID,
		arg.Description,
		arg.Amount,
		arg.Category,
		arg.Date,
		arg.CreatedAt,
	)
	return err
}

const replaceExpense = `UPDATE expenses
SET description = ?, amount = ?, category = ?, date = ?
WHERE id = ? AND user_id = ?`

type ReplaceExpenseParams struct {
	Description string
	Amount      string
	Category    string
	Date        string
	ID          string
	UserID      string
}

func (q *Queries) ReplaceExpense(ctx context.Context, arg ReplaceExpenseParams) (int64, error) {
	result, err := q.db.ExecContext(ctx, replaceExpense,
		arg.Description,
		arg.Amount,
		arg.Category,
		arg.Date,
		arg.ID,
		arg.UserID,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const deleteExpense = `DELETE FROM expenses WHERE id = ? AND user_id = ?`

func (q *Queries) DeleteExpense(ctx context.Context, id, userID string) (int64, error) {
	result, err := q.db.ExecContext(ctx, deleteExpense, id, userID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const listExpenses = `SELECT id, user_id, description, amount, category, date, created_at
FROM expenses
WHERE user_id = ?
ORDER BY seq`

func (q *Queries) ListExpenses(ctx context.Context, userID string) ([]Expense, error) {
	rows, err := q.db.QueryContext(ctx, listExpenses, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Expense
	for rows.Next() {
		var i Expense
		if err := rows.Scan(
			&i.ID,
			&i.UserID,
			&i.Description,
			&i.Amount,
			&i.Category,
			&i.Date,
			&i.CreatedAt,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const createCategory = `INSERT INTO categories (id, user_id, name, budget) VALUES (?, ?, ?, ?)`

type CreateCategoryParams struct {
	ID     string
	UserID string
	Name   string
	Budget string
}

func (q *Queries) CreateCategory(ctx context.Context, arg CreateCategoryParams) error {
	_, err := q.db.ExecContext(ctx, createCategory, arg.ID, arg.UserID, arg.Name, arg.Budget)
	return err
}

const updateCategoryBudget = `UPDATE categories SET budget = ? WHERE id = ? AND user_id = ?`

type UpdateCategoryBudgetParams struct {
	Budget string
	ID     string
	UserID string
}

func (q *Queries) UpdateCategoryBudget(ctx context.Context, arg UpdateCategoryBudgetParams) (int64, error) {
	result, err := q.db.ExecContext(ctx, updateCategoryBudget, arg.Budget, arg.ID, arg.UserID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const deleteCategory = `DELETE FROM categories WHERE id = ? AND user_id = ?`

func (q *Queries) DeleteCategory(ctx context.Context, id, userID string) (int64, error) {
	result, err := q.db.ExecContext(ctx, deleteCategory, id, userID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const listCategories = `SELECT id, user_id, name, budget FROM categories WHERE user_id = ? ORDER BY seq`

func (q *Queries) ListCategories(ctx context.Context, userID string) ([]Category, error) {
	rows, err := q.db.QueryContext(ctx, listCategories, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Category
	for rows.Next() {
		var i Category
		if err := rows.Scan(&i.ID, &i.UserID, &i.Name, &i.Budget); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const createUser = `INSERT INTO users (uid, email, password_hash, created_at) VALUES (?, ?, ?, ?)`

type CreateUserParams struct {
	UID          string
	Email        string
	PasswordHash []byte
	CreatedAt    string
}

func (q *Queries) CreateUser(ctx context.Context, arg CreateUserParams) error {
	_, err := q.db.ExecContext(ctx, createUser, arg.UID, arg.Email, arg.PasswordHash, arg.CreatedAt)
	return err
}

const getUserByEmail = `SELECT uid, email, password_hash, created_at FROM users WHERE email = ? COLLATE NOCASE`

func (q *Queries) GetUserByEmail(ctx context.Context, email string) (User, error) {
	row := q.db.QueryRowContext(ctx, getUserByEmail, email)
	var i User
	err := row.Scan(&i.UID, &i.Email, &i.PasswordHash, &i.CreatedAt)
	return i, err
}

const insertProfile = `INSERT INTO profiles (uid, email, display_name, photo_url, created_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(uid) DO NOTHING`

type InsertProfileParams struct {
	UID         string
	Email       string
	DisplayName string
	PhotoURL    string
	CreatedAt   string
}

func (q *Queries) InsertProfile(ctx context.Context, arg InsertProfileParams) (int64, error) {
	result, err := q.db.ExecContext(ctx, insertProfile,
		arg.UID,
		arg.Email,
		arg.DisplayName,
		arg.PhotoURL,
		arg.CreatedAt,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const getProfile = `SELECT uid, email, display_name, photo_url, created_at FROM profiles WHERE uid = ?`

func (q *Queries) GetProfile(ctx context.Context, uid string) (Profile, error) {
	row := q.db.QueryRowContext(ctx, getProfile, uid)
	var i Profile
	err := row.Scan(&i.UID, &i.Email, &i.DisplayName, &i.PhotoURL, &i.CreatedAt)
	return i, err
}

const listOwners = `SELECT uid FROM profiles ORDER BY created_at, uid`

func (q *Queries) ListOwners(ctx context.Context) ([]string, error) {
	rows, err := q.db.QueryContext(ctx, listOwners)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []string
	for rows.Next() {
		var uid string
		if err := rows.Scan(&uid); err != nil {
			return nil, err
		}
		items = append(items, uid)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}
