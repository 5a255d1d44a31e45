// Package web serves the operator status surface: an HTML dashboard,
// a JSON status API, and the QR pairing image.
package web
