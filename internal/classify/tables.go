/*
Copyright (c) 2025 Tobias Schäfer. All rights reserved.
Licensed under the MIT License, see LICENSE file in the project root for details.
*/
package classify

import "regexp"

// rule binds one pattern to its extraction recipe. addr and account are
// submatch indices into the compiled expression; 0 means the rule does
// not capture that field. An optional capture that did not participate in
// the match extracts as an empty string.
type rule struct {
	re      *regexp.Regexp
	reason  string
	service string
	addr    int
	account int
}

// tables holds the ordered rule list per category. Order is load-bearing:
// specific patterns (e.g. "invalid user") come before their catch-alls,
// and the first match wins.
var tables = map[Category][]rule{
	CategorySSH: {
		{
			re:      regexp.MustCompile(`Failed (?:password|none|keyboard-interactive/pam) for invalid user (\S+) from (\S+) port \d+`),
			reason:  "Failed SSH login from",
			service: "sshd",
			account: 1, addr: 2,
		},
		{
			re:      regexp.MustCompile(`Failed (?:password|none|keyboard-interactive/pam) for (\S+) from (\S+) port \d+`),
			reason:  "Failed SSH login from",
			service: "sshd",
			account: 1, addr: 2,
		},
		{
			re:      regexp.MustCompile(`Invalid user (\S+) from (\S+)`),
			reason:  "Invalid SSH user from",
			service: "sshd",
			account: 1, addr: 2,
		},
		{
			re:      regexp.MustCompile(`sshd\[\d+\]: .*authentication failure; .*rhost=(\S+)(?:\s+user=(\S+))?`),
			reason:  "Failed SSH login from",
			service: "sshd",
			addr:    1, account: 2,
		},
		{
			re:      regexp.MustCompile(`Did not receive identification string from (\S+)`),
			reason:  "SSH connection without identification from",
			service: "sshd",
			addr:    1,
		},
	},
	CategoryFTP: {
		{
			re:      regexp.MustCompile(`vsftpd.*FAIL LOGIN: Client "(\S+?)"`),
			reason:  "Failed FTP login from",
			service: "ftpd",
			addr:    1,
		},
		{
			re:      regexp.MustCompile(`pure-ftpd: \(\?@(\S+?)\) \[WARNING\] Authentication failed for user \[(\S+?)\]`),
			reason:  "Failed FTP login from",
			service: "ftpd",
			addr:    1, account: 2,
		},
		{
			re:      regexp.MustCompile(`proftpd\[\d+\][^:]*: \S+ \(\S+\[(\S+)\]\) - USER (\S+) \(Login failed\)`),
			reason:  "Failed FTP login from",
			service: "ftpd",
			addr:    1, account: 2,
		},
	},
	CategoryMailAuth: {
		{
			re:      regexp.MustCompile(`(?:pop3|imap)-login: .*(?:Aborted login|Disconnected) \(auth failed[^)]*\): user=<([^>]*)>.*rip=(\S+?),`),
			reason:  "Failed mail authentication from",
			service: "dovecot",
			account: 1, addr: 2,
		},
		{
			re:      regexp.MustCompile(`postfix/smtpd\[\d+\]: warning: \S+\[(\S+)\]: SASL \S+ authentication failed`),
			reason:  "Failed SASL authentication from",
			service: "smtpd",
			addr:    1,
		},
		{
			re:      regexp.MustCompile(`\S+ authenticator failed for (?:\S+ )?\(\S+\) \[(\S+)\](?::\d+)?: 535`),
			reason:  "Failed mail authentication from",
			service: "exim",
			addr:    1,
		},
		{
			re:      regexp.MustCompile(`LOGIN FAILED, user=(\S+), ip=\[(\S+)\]`),
			reason:  "Failed mail authentication from",
			service: "courier",
			account: 1, addr: 2,
		},
	},
	CategoryWeb: {
		{
			re:      regexp.MustCompile(`\[client (\S+?)(?::\d+)?\] user ([^\s:]+):? authentication failure`),
			reason:  "Failed web authentication from",
			service: "httpd",
			addr:    1, account: 2,
		},
		{
			re:      regexp.MustCompile(`\[client (\S+?)(?::\d+)?\] user ([^\s:]+):? password mismatch`),
			reason:  "Failed web authentication from",
			service: "httpd",
			addr:    1, account: 2,
		},
		{
			re:      regexp.MustCompile(`^(\S+) \S+ \S+ \[[^\]]+\] "[^"]*" 401 `),
			reason:  "Web 401 from",
			service: "httpd",
			addr:    1,
		},
		{
			re:      regexp.MustCompile(`^(\S+) \S+ \S+ \[[^\]]+\] "[^"]*" 403 `),
			reason:  "Web 403 from",
			service: "httpd",
			addr:    1,
		},
		{
			re:      regexp.MustCompile(`^(\S+) \S+ \S+ \[[^\]]+\] "[^"]*" 404 `),
			reason:  "Web 404 from",
			service: "httpd",
			addr:    1,
		},
	},
	CategorySU: {
		{
			re:      regexp.MustCompile(`FAILED SU \(to (\S+)\) (\S+) on`),
			reason:  "Failed su attempt by",
			service: "su",
			account: 2,
		},
		{
			re:      regexp.MustCompile(`su\[\d+\]: .*authentication failure; .*ruser=(\S+)`),
			reason:  "Failed su attempt by",
			service: "su",
			account: 1,
		},
	},
	CategorySudo: {
		{
			re:      regexp.MustCompile(`sudo(?:\[\d+\])?:\s+(\S+) : command not allowed`),
			reason:  "Refused sudo command by",
			service: "sudo",
			account: 1,
		},
		{
			re:      regexp.MustCompile(`sudo(?:\[\d+\])?:\s+(\S+) : \d+ incorrect password attempts`),
			reason:  "Failed sudo authentication by",
			service: "sudo",
			account: 1,
		},
		{
			re:      regexp.MustCompile(`sudo(?:\[\d+\])?:\s+(\S+) : user NOT in sudoers`),
			reason:  "Refused sudo command by",
			service: "sudo",
			account: 1,
		},
	},
	CategoryConsole: {
		{
			re:      regexp.MustCompile(`FAILED LOGIN(?: SESSION)?(?: \d+)? FROM (\S+) FOR (\S+),`),
			reason:  "Failed console login for",
			service: "login",
			addr:    1, account: 2,
		},
		{
			re:      regexp.MustCompile(`LOGIN FAILURE ON (\S+), (\S+)`),
			reason:  "Failed console login for",
			service: "login",
			account: 2,
		},
	},
	CategoryPortScan: {
		{
			re:      regexp.MustCompile(`Firewall: \*(?:TCP|UDP)_IN Blocked\* .*SRC=(\S+) .*DPT=\d+`),
			reason:  "Port scan from",
			service: "kernel",
			addr:    1,
		},
		{
			re:      regexp.MustCompile(`kernel:.* IN=\S+ .*SRC=(\S+) .*DPT=\d+`),
			reason:  "Blocked packet from",
			service: "kernel",
			addr:    1,
		},
	},
	CategoryPortKnock: {
		{
			re:      regexp.MustCompile(`Firewall: \*Port Knocking\* .*SRC=(\S+)`),
			reason:  "Port knock sequence from",
			service: "kernel",
			addr:    1,
		},
	},
	CategoryRelay: {
		{
			re:      regexp.MustCompile(`<= \S+@\S+ H=(?:\S+ )?(?:\(\S+\) )?\[(\S+)\]`),
			reason:  "Relayed mail from",
			service: "smtp",
			addr:    1,
		},
		{
			re:      regexp.MustCompile(`relay=\S*\[(\S+)\]`),
			reason:  "Relayed mail from",
			service: "smtp",
			addr:    1,
		},
	},
}
