package stunnel

import (
	"fmt"
	"strings"
)

// serviceName names the single service section in generated configs.
const serviceName = "scmkit"

// Config is a generated stunnel configuration.
type Config struct {
	Mode        Mode
	Port        int
	Target      string
	PIDFile     string
	Certificate string
}

// Render returns the stunnel.conf text. Client mode listens on loopback
// only; server mode listens on every interface so remote TLS clients can
// reach it.
func (c Config) Render() string {
	var b strings.Builder

	fmt.Fprintf(&b, "pid = %s\n", c.PIDFile)
	b.WriteString("foreground = no\n")

	if c.Mode == ModeServer && c.Certificate != "" {
		fmt.Fprintf(&b, "cert = %s\n", c.Certificate)
	}

	fmt.Fprintf(&b, "\n[%s]\n", serviceName)

	if c.Mode == ModeClient {
		b.WriteString("client = yes\n")
		fmt.Fprintf(&b, "accept = 127.0.0.1:%d\n", c.Port)
	} else {
		fmt.Fprintf(&b, "accept = %d\n", c.Port)
	}

	fmt.Fprintf(&b, "connect = %s\n", c.Target)

	return b.String()
}
