package pgconn

import (
	"context"
	"crypto/tls"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgpassfile"
	"github.com/jackc/pgservicefile"
)

// Config holds everything needed to dial and authenticate a new session.
// Connection-string parsing beyond the minimal DSN form below is an
// external collaborator's concern; the wire-level session only needs a
// fully resolved Config.
type Config struct {
	Host           string
	Port           uint16
	Database       string
	User           string
	Password       string
	ConnectTimeout time.Duration
	TLSConfig      *tls.Config // nil disables TLS
	RuntimeParams  map[string]string
	DialFunc       func(ctx context.Context, network, addr string) (net.Conn, error)

	// PasswordFile, if set, resolves Password from a pgpass-formatted file
	// when Password is empty (github.com/jackc/pgpassfile).
	PasswordFile string

	// ServiceFile/ServiceName are read by ApplyServiceFile, which fills
	// Host/Port/Database/User defaults from a libpq-style service file
	// (github.com/jackc/pgservicefile). Connect does not call
	// ApplyServiceFile.
	ServiceFile string
	ServiceName string
}

// ResolvePassword returns cfg.Password, falling back to a pgpass file
// lookup by Host/Port/Database/User when Password is empty.
func (cfg *Config) ResolvePassword() string {
	if cfg.Password != "" || cfg.PasswordFile == "" {
		return cfg.Password
	}
	passfile, err := pgpassfile.ReadPassfile(cfg.PasswordFile)
	if err != nil {
		return ""
	}
	return passfile.FindPassword(cfg.Host, strconv.Itoa(int(cfg.Port)), cfg.Database, cfg.User)
}

// ApplyServiceFile overlays Host/Port/Database/User with values found under
// ServiceName in ServiceFile, for any field left at its zero value.
func (cfg *Config) ApplyServiceFile() error {
	if cfg.ServiceFile == "" || cfg.ServiceName == "" {
		return nil
	}
	sf, err := pgservicefile.ReadServicefile(cfg.ServiceFile)
	if err != nil {
		return err
	}
	service, err := sf.GetService(cfg.ServiceName)
	if err != nil {
		return err
	}

	if cfg.Host == "" {
		cfg.Host = service.Settings["host"]
	}
	if cfg.Port == 0 {
		if p, err := strconv.ParseUint(service.Settings["port"], 10, 16); err == nil {
			cfg.Port = uint16(p)
		}
	}
	if cfg.Database == "" {
		cfg.Database = service.Settings["dbname"]
	}
	if cfg.User == "" {
		cfg.User = service.Settings["user"]
	}
	return nil
}

// ParseConfig parses a minimal "key=value key=value ..." DSN, the subset of
// libpq's keyword/value connection-string syntax this driver supports
// directly (URI and more exotic forms are left to an external parser).
// Recognized keys: host, port, database
// (or dbname), user, password, connect_timeout, application_name and any
// other key is passed through to RuntimeParams verbatim.
func ParseConfig(dsn string) (*Config, error) {
	cfg := &Config{
		Port:          5432,
		RuntimeParams: map[string]string{},
	}

	for _, field := range splitDSNFields(dsn) {
		kv := strings.SplitN(field, "=", 2)
		if len(kv) != 2 {
			return nil, newArgumentError("malformed DSN field %q", field)
		}
		key, value := kv[0], unquoteDSNValue(kv[1])

		switch key {
		case "host":
			cfg.Host = value
		case "port":
			p, err := strconv.ParseUint(value, 10, 16)
			if err != nil {
				return nil, newArgumentError("invalid port %q", value)
			}
			cfg.Port = uint16(p)
		case "database", "dbname":
			cfg.Database = value
		case "user":
			cfg.User = value
		case "password":
			cfg.Password = value
		case "connect_timeout":
			secs, err := strconv.Atoi(value)
			if err != nil {
				return nil, newArgumentError("invalid connect_timeout %q", value)
			}
			cfg.ConnectTimeout = time.Duration(secs) * time.Second
		case "service":
			cfg.ServiceName = value
		default:
			cfg.RuntimeParams[key] = value
		}
	}

	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.RuntimeParams["user"] == "" && cfg.User != "" {
		// application_name etc. travel via RuntimeParams into StartupMessage;
		// user/database are sent from their own dedicated fields instead.
	}

	return cfg, nil
}

func splitDSNFields(dsn string) []string {
	var fields []string
	var cur strings.Builder
	inQuotes := false
	for i := 0; i < len(dsn); i++ {
		c := dsn[i]
		switch {
		case c == '\'' :
			inQuotes = !inQuotes
			cur.WriteByte(c)
		case c == ' ' && !inQuotes:
			if cur.Len() > 0 {
				fields = append(fields, cur.String())
				cur.Reset()
			}
		default:
			cur.WriteByte(c)
		}
	}
	if cur.Len() > 0 {
		fields = append(fields, cur.String())
	}
	return fields
}

func unquoteDSNValue(v string) string {
	if len(v) >= 2 && v[0] == '\'' && v[len(v)-1] == '\'' {
		v = v[1 : len(v)-1]
		v = strings.ReplaceAll(v, `\'`, `'`)
		v = strings.ReplaceAll(v, `\\`, `\`)
	}
	return v
}

// Address returns the dial address in host:port form.
func (cfg *Config) Address() string {
	return net.JoinHostPort(cfg.Host, strconv.Itoa(int(cfg.Port)))
}
