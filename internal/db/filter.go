package db

import (
	"go.mongodb.org/mongo-driver/bson"
)

// FilterBuilder helps build MongoDB filters fluently
type FilterBuilder struct {
	filter bson.M
}

// NewFilter creates a new FilterBuilder
func NewFilter() *FilterBuilder {
	return &FilterBuilder{filter: bson.M{}}
}

// ID matches the string _id
func (f *FilterBuilder) ID(id string) *FilterBuilder {
	f.filter["_id"] = id
	return f
}

// Eq adds an equality condition
func (f *FilterBuilder) Eq(field string, value interface{}) *FilterBuilder {
	f.filter[field] = value
	return f
}

// Lt adds a less-than condition
func (f *FilterBuilder) Lt(field string, value interface{}) *FilterBuilder {
	f.filter[field] = bson.M{"$lt": value}
	return f
}

// NotIn adds a $nin condition (value not in array)
func (f *FilterBuilder) NotIn(field string, values interface{}) *FilterBuilder {
	f.filter[field] = bson.M{"$nin": values}
	return f
}

// Build returns the final bson.M filter
func (f *FilterBuilder) Build() bson.M {
	return f.filter
}

// Set wraps fields in a $set update
func Set(fields bson.M) bson.M {
	return bson.M{"$set": fields}
}

// AddToSet unions values into the array field without duplicates
func AddToSet(field string, values ...string) bson.M {
	return bson.M{field: bson.M{"$each": values}}
}
