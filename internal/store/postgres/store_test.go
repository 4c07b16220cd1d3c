package postgres

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatapp/internal/domain"
)

func newMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		_ = db.Close()
	})
	return db, mock
}

func TestPairLockKeyIsSymmetric(t *testing.T) {
	assert.Equal(t, pairLockKey(3, 9), pairLockKey(9, 3))
	assert.NotEqual(t, pairLockKey(3, 9), pairLockKey(3, 10))
}

func TestMessageCreateLocksPair(t *testing.T) {
	db, mock := newMock(t)
	repo := NewMessageRepo(db)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectExec(`SELECT pg_advisory_xact_lock`).
		WithArgs(pairLockKey(1, 2)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`INSERT INTO messages (.+) RETURNING id, created_at`).
		WithArgs(int64(1), int64(2), "hello").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(int64(7), now))
	mock.ExpectCommit()

	m := &domain.Message{SenderID: 1, ReceiverID: 2, Content: "hello"}
	require.NoError(t, repo.Create(context.Background(), m))
	assert.Equal(t, int64(7), m.ID)
	assert.Equal(t, now, m.CreatedAt)
	assert.False(t, m.IsRead)
}

func TestMessageCreateRollsBackOnFailure(t *testing.T) {
	db, mock := newMock(t)
	repo := NewMessageRepo(db)

	mock.ExpectBegin()
	mock.ExpectExec(`SELECT pg_advisory_xact_lock`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`INSERT INTO messages`).WillReturnError(sql.ErrConnDone)
	mock.ExpectRollback()

	err := repo.Create(context.Background(), &domain.Message{SenderID: 1, ReceiverID: 2, Content: "x"})
	assert.ErrorIs(t, err, sql.ErrConnDone)
}

func TestMarkReadReportsModifiedCount(t *testing.T) {
	db, mock := newMock(t)
	repo := NewMessageRepo(db)
	at := time.Now()

	mock.ExpectExec(`UPDATE messages SET is_read = TRUE`).
		WithArgs(at, int64(2), int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 4))

	n, err := repo.MarkRead(context.Background(), 2, 1, at)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
}

func TestListBetweenScansAscending(t *testing.T) {
	db, mock := newMock(t)
	repo := NewMessageRepo(db)
	t0 := time.Now().UTC()

	rows := sqlmock.NewRows([]string{"id", "sender_id", "receiver_id", "content", "created_at", "is_read", "read_at"}).
		AddRow(int64(1), int64(1), int64(2), "a", t0, true, t0).
		AddRow(int64(2), int64(2), int64(1), "b", t0.Add(time.Millisecond), false, nil)
	mock.ExpectQuery(`SELECT (.+) FROM messages`).
		WithArgs(int64(1), int64(2), int64(0), int64(50)).
		WillReturnRows(rows)

	msgs, err := repo.ListBetween(context.Background(), 1, 2, domain.HistoryQuery{Limit: 50})
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.NotNil(t, msgs[0].ReadAt)
	assert.Nil(t, msgs[1].ReadAt)
	assert.True(t, msgs[0].Before(msgs[1]))
}

func TestUserCreateConflict(t *testing.T) {
	db, mock := newMock(t)
	repo := NewUserRepo(db)

	mock.ExpectQuery(`INSERT INTO users`).
		WillReturnError(&pgconn.PgError{Code: "23505"})

	err := repo.Create(context.Background(), &domain.User{Name: "A", Email: "a@x.io", HashedPassword: "h"})
	assert.ErrorIs(t, err, domain.ErrConflict)
}

func TestUserGetByIDNotFound(t *testing.T) {
	db, mock := newMock(t)
	repo := NewUserRepo(db)

	mock.ExpectQuery(`SELECT (.+) FROM users WHERE id = \$1`).
		WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := repo.GetByID(context.Background(), 5)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestDeleteWithMessages(t *testing.T) {
	t.Run("removes messages then user", func(t *testing.T) {
		db, mock := newMock(t)
		repo := NewUserRepo(db)

		mock.ExpectBegin()
		mock.ExpectExec(`DELETE FROM messages`).WithArgs(int64(3)).WillReturnResult(sqlmock.NewResult(0, 6))
		mock.ExpectExec(`DELETE FROM users`).WithArgs(int64(3)).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		n, err := repo.DeleteWithMessages(context.Background(), 3)
		require.NoError(t, err)
		assert.Equal(t, int64(6), n)
	})

	t.Run("missing user rolls back", func(t *testing.T) {
		db, mock := newMock(t)
		repo := NewUserRepo(db)

		mock.ExpectBegin()
		mock.ExpectExec(`DELETE FROM messages`).WillReturnResult(sqlmock.NewResult(0, 2))
		mock.ExpectExec(`DELETE FROM users`).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()

		_, err := repo.DeleteWithMessages(context.Background(), 3)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})
}
