package main

const (
	MsgInvalidContentType = "Only JPG or PNG images allowed"

	MsgNoFile = "No image uploaded. Send the photo in the multipart field \"file\"."

	MsgUndecodableImage = "The uploaded file could not be read as an image. Please upload a clear JPG or PNG photo of the shelf."

	MsgPayloadTooLarge = "Image exceeds the upload size limit"

	MsgImageTooLarge = "The image dimensions are too large. Please upload a smaller photo."

	MsgInvalidConfidence = "confidence must be a number between 0 and 1"

	MsgUpstreamFailure = "Shelf analysis service is unavailable right now. Please try again in a moment."

	MsgUpstreamTimeout = "Shelf analysis timed out waiting for the detection service."

	MsgBusy = "Too many shelf photos are being analysed at once. Please retry shortly."
)
