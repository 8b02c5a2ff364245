package config

import (
	"fmt"
	"os"
	"strings"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "sessiond":
		return sessiondTemplate, nil
	case "sshsessiond", "ssh":
		return sshTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

func Kinds() []string {
	return []string{"sessiond", "sshsessiond"}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

const sessiondTemplate = `slug = "Redfish"
type = "Redfish"
transaction_timeout = "20s"
create_policy = "allow"
unknown_owner_policy = "propagate"
bus = "system"
admin_addr = "127.0.0.1:9180"
admin_token = ""
admin_tls_cert = ""
admin_tls_key = ""
admin_client_ca = ""
cors_origins = ["http://localhost:3000"]
`

const sshTemplate = `slug = "SSH"
type = "ManagerConsole"
transaction_timeout = "20s"
create_policy = "reject"
unknown_owner_policy = "drop"
bus = "system"
admin_addr = "127.0.0.1:9181"
admin_token = ""
cors_origins = []
`
