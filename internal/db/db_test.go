package db

import (
	"testing"

	"github.com/shinyyama/estate-chat/internal/config"
)

func TestBuildDSN(t *testing.T) {
	base := config.Config{DBUser: "u", DBPassword: "p", DBName: "estate", DBPort: "3306"}
	tests := []struct {
		name     string
		host     string
		instance string
		want     string
	}{
		{"plain host", "10.0.0.5", "", "u:p@tcp(10.0.0.5:3306)/estate?charset=utf8mb4&parseTime=True&loc=UTC"},
		{"tcp wrapped", "tcp(db:3307)", "", "u:p@tcp(db:3307)/estate?charset=utf8mb4&parseTime=True&loc=UTC"},
		{"unix wrapped", "unix(/tmp/mysql.sock)", "", "u:p@unix(/tmp/mysql.sock)/estate?charset=utf8mb4&parseTime=True&loc=UTC"},
		{"socket path", "/var/run/mysqld.sock", "", "u:p@unix(/var/run/mysqld.sock)/estate?charset=utf8mb4&parseTime=True&loc=UTC"},
		{"cloud sql", "ignored", "proj:region:inst", "u:p@unix(/cloudsql/proj:region:inst)/estate?charset=utf8mb4&parseTime=True&loc=UTC"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			cfg.DBHost = tt.host
			cfg.InstanceConnectionName = tt.instance
			if got := BuildDSN(&cfg); got != tt.want {
				t.Fatalf("got=%q want=%q", got, tt.want)
			}
		})
	}
}
