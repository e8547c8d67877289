package postgres_test

import (
	"context"
	"os"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/reverie/pkg/storage"
	"github.com/papercomputeco/reverie/pkg/storage/postgres"
	"github.com/papercomputeco/reverie/pkg/storage/storagetest"
)

// connStr returns the PostgreSQL connection string from environment or skips the test.
func connStr() string {
	dsn := os.Getenv("REVERIE_TEST_POSTGRES_DSN")
	if dsn == "" {
		Skip("REVERIE_TEST_POSTGRES_DSN not set, skipping PostgreSQL tests")
	}
	return dsn
}

var _ = storagetest.DescribeDriver("postgres", func() storage.Driver {
	ctx := context.Background()

	driver, err := postgres.NewDriver(ctx, connStr())
	Expect(err).NotTo(HaveOccurred())

	// Clean all tables before each test for isolation.
	for _, table := range []string{"summaries", "rollup_cursors", "dead_letters", "blocks"} {
		_, err = driver.DB.ExecContext(ctx, "DELETE FROM "+table)
		Expect(err).NotTo(HaveOccurred())
	}
	return driver
})

var _ = Describe("NewDriver", func() {
	It("rejects a malformed dsn before connecting", func() {
		_, err := postgres.NewDriver(context.Background(), "postgres://reverie@localhost:notaport/reverie")
		Expect(err).To(MatchError(ContainSubstring("parsing postgres dsn")))
	})
})
