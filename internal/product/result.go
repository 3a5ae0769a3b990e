package product

import "time"

// CheckStatus is the check-level outcome recorded on a CheckResult.
type CheckStatus string

const (
	CheckSuccess CheckStatus = "success"
	CheckWarning CheckStatus = "warning"
	CheckError   CheckStatus = "error"
)

// CheckResult is the immutable record produced by one check invocation.
// Pointer fields are nil when the stage that fills them did not run.
type CheckResult struct {
	ID           string            `json:"id"`
	ProductID    string            `json:"productId"`
	Status       CheckStatus       `json:"status"`
	Message      string            `json:"message"`
	ResponseTime *int64            `json:"responseTime,omitempty"`
	StatusCode   *int              `json:"statusCode,omitempty"`
	ErrorCode    string            `json:"errorCode,omitempty"`
	ErrorDetails *ErrorDetails     `json:"errorDetails,omitempty"`
	HTTPHeaders  map[string]string `json:"httpHeaders,omitempty"`
	DNSInfo      *DNSInfo          `json:"dnsInfo,omitempty"`
	SSLInfo      *SSLInfo          `json:"sslInfo,omitempty"`
	APIResponse  *APIResponse      `json:"apiResponse,omitempty"`
	ContentInfo  *ContentInfo      `json:"contentInfo,omitempty"`
	Performance  *Performance      `json:"performance,omitempty"`
	NetworkInfo  *NetworkInfo      `json:"networkInfo,omitempty"`
	CheckedAt    time.Time         `json:"checkedAt"`
}

// ErrorDetails describes the most significant stage failure of a check.
type ErrorDetails struct {
	Stage   string `json:"stage"`
	Kind    string `json:"kind"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// MXRecord is a single mail exchanger.
type MXRecord struct {
	Exchange string `json:"exchange"`
	Priority uint16 `json:"priority"`
}

// DNSInfo holds resolver output for the product hostname.
type DNSInfo struct {
	Hostname           string     `json:"hostname"`
	Registrable        string     `json:"registrable,omitempty"`
	Resolver           string     `json:"resolver,omitempty"`
	IPv4               []string   `json:"ipv4"`
	IPv6               []string   `json:"ipv6"`
	MX                 []MXRecord `json:"mx"`
	Errors             []string   `json:"errors,omitempty"`
	RegistrationExpiry *time.Time `json:"registrationExpiry,omitempty"`
}

// SSLInfo holds certificate metadata from the lenient TLS handshake.
type SSLInfo struct {
	Issuer             string    `json:"issuer"`
	Subject            string    `json:"subject"`
	SerialNumber       string    `json:"serialNumber"`
	DNSNames           []string  `json:"dnsNames,omitempty"`
	ValidFrom          time.Time `json:"validFrom"`
	ValidTo            time.Time `json:"validTo"`
	DaysUntilExpiry    int       `json:"daysUntilExpiry"`
	Fingerprint        string    `json:"fingerprint"`
	SignatureAlgorithm string    `json:"signatureAlgorithm"`
	Protocol           string    `json:"protocol,omitempty"`
	CipherSuite        string    `json:"cipherSuite,omitempty"`
	Authorized         bool      `json:"authorized"`
	AuthorizationError string    `json:"authorizationError,omitempty"`
}

// APIResponse summarises a JSON response body.
type APIResponse struct {
	Type   string   `json:"type"`
	Root   string   `json:"root"`
	Keys   []string `json:"keys,omitempty"`
	Length int      `json:"length"`
}

// ContentInfo summarises an HTML response body.
type ContentInfo struct {
	Title           string `json:"title,omitempty"`
	MetaDescription string `json:"metaDescription,omitempty"`
	ContentLength   int    `json:"contentLength"`
	ContentType     string `json:"contentType,omitempty"`
	HasExpectedText *bool  `json:"hasExpectedText,omitempty"`
}

// Performance decomposes the primary request time in milliseconds.
type Performance struct {
	DNSTime      int64 `json:"dnsTime"`
	ConnectTime  int64 `json:"connectTime"`
	SSLTime      int64 `json:"sslTime"`
	TransferTime int64 `json:"transferTime"`
	TotalTime    int64 `json:"totalTime"`
}

// PingStats is the optional ICMP probe summary.
type PingStats struct {
	Address    string  `json:"address"`
	Sent       int     `json:"sent"`
	Received   int     `json:"received"`
	PacketLoss float64 `json:"packetLoss"`
	AvgRttMs   float64 `json:"avgRttMs"`
}

// NetworkInfo describes the connection used by the primary request.
type NetworkInfo struct {
	RemoteAddr string     `json:"remoteAddr,omitempty"`
	Protocol   string     `json:"protocol,omitempty"`
	FinalURL   string     `json:"finalUrl,omitempty"`
	Redirects  int        `json:"redirects"`
	Ping       *PingStats `json:"ping,omitempty"`
}
