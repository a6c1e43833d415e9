package extract

// ODP slides are draw:page elements; ODS sheets are table:table. Both carry a name attribute
// used as the section heading.

func extractODP(content []byte) (Document, error) {
	return odfDocument(content, "odp", "page", false)
}

func extractODS(content []byte) (Document, error) {
	return odfDocument(content, "ods", "table", false)
}
