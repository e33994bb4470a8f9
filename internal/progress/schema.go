package progress

import (
	"context"
	"embed"
	"fmt"
	"strings"

	"github.com/pot-code/training-progress/internal/infrastructure/driver"
)

//go:embed schema/*.sql
var schemaFS embed.FS

// Migrate creates the progress tables that do not exist yet
func Migrate(ctx context.Context, conn driver.ITransactionalDB) error {
	ddl, err := schemaFS.ReadFile(fmt.Sprintf("schema/%s.sql", conn.DriverName()))
	if err != nil {
		return fmt.Errorf("no schema for driver %s: %w", conn.DriverName(), err)
	}
	for _, stmt := range strings.Split(string(ddl), ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}
