package configclient

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// AMTCredentials is the file-backed AMT user/password lookup used by
// WakeupAMTHosts/ResetAMTHosts (spec §4.7), grounded on the original
// implementation's util/amt_creds.AMTCredentialsProvider (referenced from
// common/config.py's WithAMTCredentials mixin, not itself retrieved — the
// file format below is the natural one for a "-p creds file" flag: one
// "host:user:password" triple per line, with a "*:user:password" line as
// the fallback used when no host-specific entry exists).
type AMTCredentials struct {
	perHost map[string]credential
	fallback *credential
}

type credential struct {
	user, pass string
}

// LoadAMTCredentials reads path in the format described above.
func LoadAMTCredentials(path string) (*AMTCredentials, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("amt credentials: %w", err)
	}
	defer f.Close()

	creds := &AMTCredentials{perHost: make(map[string]credential)}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, ":", 3)
		if len(parts) != 3 {
			return nil, fmt.Errorf("amt credentials: malformed line %q", line)
		}
		c := credential{user: parts[1], pass: parts[2]}
		if parts[0] == "*" {
			creds.fallback = &c
			continue
		}
		creds.perHost[parts[0]] = c
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("amt credentials: %w", err)
	}
	return creds, nil
}

// GetCredentials returns the user/password pair for the named AMT host,
// falling back to the "*" entry if present.
func (c *AMTCredentials) GetCredentials(amtHost string) (user, pass string, ok bool) {
	if cred, found := c.perHost[amtHost]; found {
		return cred.user, cred.pass, true
	}
	if c.fallback != nil {
		return c.fallback.user, c.fallback.pass, true
	}
	return "", "", false
}
