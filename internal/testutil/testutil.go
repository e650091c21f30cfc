// Package testutil provides an in-memory database and a small question set
// for package tests.
package testutil

import (
	"fmt"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/Perfect-Match-Org/PMTI/internal/catalog"
	"github.com/Perfect-Match-Org/PMTI/internal/database"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const (
	Alice   = "alice@cornell.edu"
	Bob     = "bob@cornell.edu"
	Mallory = "mallory@cornell.edu"
)

// Questions has two questions so a full survey takes four submissions.
const Questions = `
questions:
  - questionId: Q1
    type: individual
    order: 1
    storyline: first
    perspectives:
      user1: { question: "one for user1?" }
      user2: { question: "one for user2?" }
    options:
      - { id: A, text: a }
      - { id: B, text: b }
      - { id: C, text: c }
  - questionId: Q2
    type: individual
    order: 2
    storyline: second
    perspectives:
      user1: { question: "two for user1?" }
      user2: { question: "two for user2?" }
    options:
      - { id: A, text: a }
      - { id: B, text: b }
`

var dbSeq atomic.Int64

func Catalog(t testing.TB) *catalog.Catalog {
	t.Helper()
	c, err := catalog.Load([]byte(Questions))
	require.NoError(t, err)
	return c
}

// NewDB opens a private migrated in-memory database. A single connection
// serializes transactions the way the row lock does in postgres.
func NewDB(t testing.TB) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared", name, dbSeq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, database.AutoMigrate(db))
	return db
}
