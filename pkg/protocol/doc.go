/*
Package protocol defines the JSON wire formats spoken over Bastion's two
persistent sockets: the panel↔daemon connection and the browser console
session. Both sides use single-envelope structs with a discriminating
Type field and omitempty payload fields, so a frame is always exactly one
message and unknown types can be dropped without breaking the read loop.
*/
package protocol
