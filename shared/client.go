package shared

import (
	"crypto/tls"
	"log"
	"net/http"
	"os"
	"strings"
)

// HttpClient builds the client used for payout rail calls. Certificate
// verification can be disabled for local environments where the rail runs
// behind a self-signed certificate.
func HttpClient() *http.Client {
	ignoreSSL := os.Getenv("IGNORE_SSL_CERTS")

	if strings.ToLower(ignoreSSL) == "true" {
		log.Println("Warning: SSL certificate verification disabled")
		tr := &http.Transport{
			TLSClientConfig: &tls.Config{
				InsecureSkipVerify: true,
			},
		}
		return &http.Client{Transport: tr}
	}

	return &http.Client{}
}
