package service

var TruncateFilename = truncateFilename
