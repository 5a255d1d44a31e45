// Package whatsapp adapts the whatsmeow WhatsApp client to the chat
// contract: it translates whatsmeow lifecycle events into the core event
// union and implements the transport commands the session controller
// issues.
package whatsapp
