package sqldb

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
)

// 支持的方言。
const (
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
)

type dialect struct {
	name   string
	driver string
	// dir 是 deploy/migrations 下的子目录。
	dir         string
	rebind      func(query string) string
	isDuplicate func(err error) bool
}

func dialectFor(driver string) (dialect, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case DriverMySQL:
		return dialect{
			name:        "MySQL",
			driver:      DriverMySQL,
			dir:         DriverMySQL,
			rebind:      func(q string) string { return q },
			isDuplicate: mysqlDuplicate,
		}, nil
	case DriverPostgres, "postgresql", "pg":
		return dialect{
			name:        "PostgreSQL",
			driver:      DriverPostgres,
			dir:         DriverPostgres,
			rebind:      dollarPlaceholders,
			isDuplicate: postgresDuplicate,
		}, nil
	default:
		return dialect{}, fmt.Errorf("暂不支持的存储驱动 %q", driver)
	}
}

// dollarPlaceholders 把 ? 占位符改写为 $1, $2...
func dollarPlaceholders(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func mysqlDuplicate(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == 1062
}

func postgresDuplicate(err error) bool {
	var pe *pq.Error
	return errors.As(err, &pe) && pe.Code == "23505"
}
