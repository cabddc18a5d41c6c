// Package sqldb 提供基于 MySQL 或 PostgreSQL 的钱包记录持久化，
// 启动时自动执行 deploy/migrations 中对应方言的迁移脚本。
package sqldb
