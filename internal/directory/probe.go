package directory

import (
	"context"
	"fmt"
)

// Probe implements forest.Prober: bind to host's directory root and return
// the observed DnsHostName, per spec §4.C's controller reachability check
// ("bind to root, read DnsHostName").
func (c *Client) Probe(ctx context.Context, userName, password, host string) (string, error) {
	conn, info, auth := c.bindAndReadRoot(ctx, host, Credentials{UserName: userName, Password: password})
	if conn != nil {
		defer conn.Close()
	}

	if auth.Status != AuthOk {
		return "", fmt.Errorf("directory: probing %s: %s", host, auth)
	}

	if info.DnsHostName == "" {
		return "", fmt.Errorf("directory: probing %s: root DSE returned no dnsHostName", host)
	}

	return info.DnsHostName, nil
}
