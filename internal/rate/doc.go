// Package rate provides Redis fixed-window throttles for login and refresh traffic.
//
// # Window semantics
//
// Counters are INCR + PEXPIRE on the first hit in one script, so a counter never
// survives without a TTL. Keys live under the configured prefix:
//   - <prefix>:rl:login:<identifier>  failed logins per identifier
//   - <prefix>:rl:ip:<ip>             failed logins per client IP
//   - <prefix>:rl:refresh:<sid>       refresh calls per session
//
// This throttle sits in front of the credential verifier. It never locks accounts;
// lockout is identity state owned by package credential.
package rate
