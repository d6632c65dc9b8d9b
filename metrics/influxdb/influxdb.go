// Package influxdb periodically reports the contents of a metrics registry
// to an InfluxDB endpoint.
package influxdb

import (
	"fmt"
	"time"

	"github.com/tos-network/refilld/metrics"
)

// InfluxDBWithTags starts a reporter against an InfluxDB 1.x endpoint. The
// 1.x credentials ride the v2 client's compatibility mode: username:password
// becomes the token and the database becomes the bucket.
func InfluxDBWithTags(r metrics.Registry, d time.Duration, url string, database string, username string, password string, namespace string, tags map[string]string) {
	token := fmt.Sprintf("%s:%s", username, password)
	InfluxDBV2WithTags(r, d, url, token, database, "", namespace, tags)
}
