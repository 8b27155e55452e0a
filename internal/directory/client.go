package directory

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/go-ldap/ldap/v3"
)

// Defaults for dial and search timeouts, mirroring the Network section of
// the teacher's configuration (internal/config.NetworkConfig).
const (
	DefaultDialTimeout   = 10 * time.Second
	DefaultSearchTimeout = 60 * time.Second
)

// Client is the Directory Client of spec §4.A. It holds no long-lived
// connection: every operation dials and binds fresh, because each search
// must first rebind to the directory root to observe DnsHostName,
// invocationId and highestCommittedUSN (spec §4.A: "Before each search the
// client rebinds to the directory root").
type Client struct {
	dialTimeout   time.Duration
	searchTimeout time.Duration
	tlsConfig     *tls.Config
	logger        *slog.Logger

	// dial is overridable in tests to avoid a live directory.
	dial func(ctx context.Context, host string, dialTimeout time.Duration, tlsConfig *tls.Config) (*ldap.Conn, error)
}

// NewClient builds a Directory Client with the given TLS configuration
// (nil means plaintext LDAP, matching an on-prem AD forest with StartTLS
// disabled by policy).
func NewClient(tlsConfig *tls.Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		dialTimeout:   DefaultDialTimeout,
		searchTimeout: DefaultSearchTimeout,
		tlsConfig:     tlsConfig,
		logger:        logger,
		dial:          dialLDAP,
	}
}

func dialLDAP(ctx context.Context, host string, dialTimeout time.Duration, tlsConfig *tls.Config) (*ldap.Conn, error) {
	dialer := &net.Dialer{Timeout: dialTimeout}

	opts := []ldap.DialOpt{ldap.DialWithDialer(dialer)}
	if tlsConfig != nil {
		opts = append(opts, ldap.DialWithTLSConfig(tlsConfig))
	}

	conn, err := ldap.DialURL(fmt.Sprintf("ldap://%s:389", host), opts...)
	if err != nil {
		return nil, fmt.Errorf("directory: dialing %s: %w", host, err)
	}

	conn.SetTimeout(dialTimeout)

	return conn, nil
}

// rootInfo is the observed state of the directory root, read fresh before
// every retrieval call (spec §4.A).
type rootInfo struct {
	DnsHostName          string
	InvocationID         string
	HighestCommittedUSN  string
	DefaultNamingContext string
}

// bindAndReadRoot dials host, binds with credentials, and reads the root
// DSE attributes the caller needs to decide whether a full sync is
// required. It returns the classified AuthResult and, on success, the open
// connection (caller must Close it) plus the observed root attributes.
func (c *Client) bindAndReadRoot(ctx context.Context, host string, creds Credentials) (*ldap.Conn, rootInfo, AuthResult) {
	conn, err := c.dial(ctx, host, c.dialTimeout, c.tlsConfig)
	if err != nil {
		return nil, rootInfo{}, AuthResult{Status: AuthServerUnreachable, Err: err}
	}

	if err := conn.Bind(creds.UserName, creds.Password); err != nil {
		conn.Close()
		return nil, rootInfo{}, classifyBindError(err)
	}

	info, err := readRootDSE(conn)
	if err != nil {
		conn.Close()
		return nil, rootInfo{}, AuthResult{Status: AuthOther, Err: err}
	}

	return conn, info, AuthResult{Status: AuthOk}
}

// readRootDSE reads DnsHostName, invocationId, highestCommittedUSN and
// defaultNamingContext from the root DSE, per spec §4.A.
func readRootDSE(conn *ldap.Conn) (rootInfo, error) {
	req := ldap.NewSearchRequest(
		"",
		ldap.ScopeBaseObject,
		ldap.NeverDerefAliases,
		0, 0, false,
		"(objectClass=*)",
		[]string{"dnsHostName", "defaultNamingContext"},
		nil,
	)

	res, err := conn.Search(req)
	if err != nil {
		return rootInfo{}, fmt.Errorf("directory: reading root DSE: %w", err)
	}

	if len(res.Entries) == 0 {
		return rootInfo{}, fmt.Errorf("directory: root DSE returned no entries")
	}

	root := res.Entries[0]
	info := rootInfo{
		DnsHostName:          root.GetAttributeValue("dnsHostName"),
		DefaultNamingContext: root.GetAttributeValue("defaultNamingContext"),
	}

	invReq := ldap.NewSearchRequest(
		"",
		ldap.ScopeBaseObject,
		ldap.NeverDerefAliases,
		0, 0, false,
		"(objectClass=*)",
		[]string{"invocationId", "highestCommittedUSN"},
		nil,
	)

	invRes, err := conn.Search(invReq)
	if err == nil && len(invRes.Entries) > 0 {
		info.InvocationID = invRes.Entries[0].GetAttributeValue("invocationId")
		info.HighestCommittedUSN = invRes.Entries[0].GetAttributeValue("highestCommittedUSN")
	}

	return info, nil
}
