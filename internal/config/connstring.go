package config

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

// ParseConnectionString splits "k1=v1;k2=v2" into a map with lower-cased
// keys. Values may contain '='. Empty segments are ignored.
func ParseConnectionString(s string) (map[string]string, error) {
	out := map[string]string{}
	for _, part := range strings.Split(s, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		k, v, ok := strings.Cut(part, "=")
		k = strings.ToLower(strings.TrimSpace(k))
		if !ok || k == "" {
			return nil, fmt.Errorf("connection string segment %q is not key=value", redactSegment(part))
		}
		out[k] = strings.TrimSpace(v)
	}
	return out, nil
}

// redactSegment keeps the key of a segment so errors never print secrets.
func redactSegment(part string) string {
	if k, _, ok := strings.Cut(part, "="); ok {
		return k + "=***"
	}
	if len(part) > 4 {
		return part[:4] + "***"
	}
	return "***"
}

func (c *Config) parseConnectionStrings() error {
	if err := c.Storage.applyConnectionString(); err != nil {
		return fmt.Errorf("storage.connection_string: %w", err)
	}
	if err := c.Notify.applyConnectionString(); err != nil {
		return fmt.Errorf("notify.connection_string: %w", err)
	}
	return nil
}

func setIfEmpty(dst *string, values map[string]string, keys ...string) {
	if *dst != "" {
		return
	}
	for _, k := range keys {
		if v := values[k]; v != "" {
			*dst = v
			return
		}
	}
}

// applyConnectionString understands the keys provider, endpoint, region,
// profile, accesskeyid, secretaccesskey, pathstyle, path and create. The
// account style names accountname, accountkey and blobendpoint are accepted
// for the key pair and endpoint.
func (s *StorageConfig) applyConnectionString() error {
	if strings.TrimSpace(s.ConnectionString) == "" {
		return nil
	}
	values, err := ParseConnectionString(s.ConnectionString)
	if err != nil {
		return err
	}

	setIfEmpty(&s.Provider, values, "provider")
	if s.Provider == "" {
		if values["path"] != "" {
			s.Provider = "file"
		} else {
			s.Provider = "s3"
		}
	}

	setIfEmpty(&s.S3.Endpoint, values, "endpoint", "blobendpoint")
	setIfEmpty(&s.S3.Region, values, "region")
	setIfEmpty(&s.S3.Profile, values, "profile")
	setIfEmpty(&s.S3.AccessKeyID, values, "accesskeyid", "accountname")
	setIfEmpty(&s.S3.SecretAccessKey, values, "secretaccesskey", "accountkey")
	if v, ok := values["pathstyle"]; ok && !s.S3.ForcePathStyle {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("pathstyle: %w", err)
		}
		s.S3.ForcePathStyle = b
	}

	setIfEmpty(&s.File.BaseDir, values, "path")
	if v, ok := values["create"]; ok && !s.File.Create {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("create: %w", err)
		}
		s.File.Create = b
	}
	return nil
}

// applyConnectionString understands endpoint (smtp://host:port or
// host:port), username, password (or accesskey) and starttls.
func (n *NotifyConfig) applyConnectionString() error {
	if strings.TrimSpace(n.ConnectionString) == "" {
		return nil
	}
	values, err := ParseConnectionString(n.ConnectionString)
	if err != nil {
		return err
	}

	if endpoint := values["endpoint"]; endpoint != "" && n.SMTPHost == "" {
		host, port, err := splitEndpoint(endpoint)
		if err != nil {
			return err
		}
		n.SMTPHost = host
		if port != 0 {
			n.SMTPPort = port
		}
	}
	setIfEmpty(&n.Username, values, "username")
	setIfEmpty(&n.Password, values, "password", "accesskey")
	if v, ok := values["starttls"]; ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("starttls: %w", err)
		}
		n.StartTLS = b
	}
	return nil
}

func splitEndpoint(endpoint string) (string, int, error) {
	if strings.Contains(endpoint, "://") {
		u, err := url.Parse(endpoint)
		if err != nil {
			return "", 0, fmt.Errorf("endpoint: %w", err)
		}
		endpoint = u.Host
	}
	if endpoint == "" {
		return "", 0, fmt.Errorf("endpoint has no host")
	}
	host, portStr, err := net.SplitHostPort(endpoint)
	if err != nil {
		// no port
		return strings.TrimSuffix(endpoint, "/"), 0, nil
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return "", 0, fmt.Errorf("endpoint port %q is invalid", portStr)
	}
	return host, port, nil
}
