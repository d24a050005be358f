/*
Package auth inspects session credentials before they are used to open the
event stream or call the API.

Tokens are parsed without signature verification: the server is the
authority on validity. The client only reads the subject and expiry so
that it can refuse to connect with a credential that has already expired.
Tokens that are not JWTs are accepted as opaque credentials:

	claims, err := auth.Check(token, time.Now())
	if errors.Is(err, auth.ErrExpiredCredential) {
		// ask for a new login
	}
*/
package auth
