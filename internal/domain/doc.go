// Package domain holds the request-scoped values flowing through the proxy:
// uploaded assets, the image index and the render outcome. It has no
// transport or infrastructure dependencies.
package domain
